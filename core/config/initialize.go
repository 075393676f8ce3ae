package config

import (
	"errors"
	"io/fs"
	"log"
	"path/filepath"

	"github.com/spf13/afero"
)

// Initialize writes the default configuration to dir if it doesn't already
// have one, then loads it.
func Initialize(dir string, logger *log.Logger) (*Configuration, error) {
	return initializeFs(afero.NewOsFs(), dir, logger)
}

func initializeFs(base afero.Fs, dir string, logger *log.Logger) (*Configuration, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := base.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	configFs := afero.NewBasePathFs(base, dir)
	_, err = configFs.Stat(ConfigurationName)
	switch {
	case err == nil:
		logger.Printf("- %s already exists, skipping", ConfigurationName)
	case errors.Is(err, fs.ErrNotExist):
		logger.Printf("- Writing %s", ConfigurationName)
		if err := afero.WriteFile(configFs, ConfigurationName, defaultConfigData, 0600); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return loadFs(base, dir)
}
