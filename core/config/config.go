package config

import (
	_ "embed"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

var (
	//go:embed default/config.yaml
	defaultConfigData []byte
)

const (
	ConfigurationName = "config.yaml"
)

const (
	ColorAlways = "always"
	ColorAuto   = "auto"
	ColorNever  = "never"
)

// ErrNoEventLog is returned when the event log is disabled.
var ErrNoEventLog = errors.New("event log disabled")

type Configuration struct {
	configFs  afero.Fs
	configDir string

	Prompt            string `json:"prompt" validate:"required"`
	Path              string `json:"path"`
	HistoryFile       string `json:"history_file"`
	HistoryLimit      int    `json:"history_limit" validate:"gte=0"`
	EventLog          string `json:"event_log"`
	ExecFailureStatus int    `json:"exec_failure_status" validate:"gte=1,lte=255"`
	StrictCd          bool   `json:"strict_cd"`
	Color             string `json:"color" validate:"oneof=always auto never"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})

	return validate.Struct(c)
}

func (c *Configuration) fs() afero.Fs {
	if c.configFs == nil {
		c.configFs = afero.NewMemMapFs()
	}
	return c.configFs
}

// Dir returns the directory the configuration was loaded from, empty for an
// in-memory configuration.
func (c *Configuration) Dir() string {
	return c.configDir
}

// OpenEventLog opens the event log in an append only state.
func (c *Configuration) OpenEventLog() (afero.File, error) {
	if c.EventLog == "" {
		return nil, ErrNoEventLog
	}
	return c.fs().OpenFile(c.EventLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// ReadEventLog opens the event log for reading.
func (c *Configuration) ReadEventLog() (afero.File, error) {
	if c.EventLog == "" {
		return nil, ErrNoEventLog
	}
	return c.fs().OpenFile(c.EventLog, os.O_RDONLY, 0600)
}

// HistoryPath returns the host path of the history file, or "" if history
// isn't persisted.
func (c *Configuration) HistoryPath() string {
	if c.HistoryFile == "" || c.configDir == "" {
		return ""
	}
	if filepath.IsAbs(c.HistoryFile) {
		return c.HistoryFile
	}
	return filepath.Join(c.configDir, c.HistoryFile)
}

// Default returns the built-in configuration backed by an in-memory
// filesystem so nothing is written to disk.
func Default() *Configuration {
	cfg := defaultConfig()
	cfg.configFs = afero.NewMemMapFs()
	return cfg
}

func defaultConfig() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	return &out
}
