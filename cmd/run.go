package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/josephlewis42/forksh/core/config"
	"github.com/josephlewis42/forksh/core/logger"
	"github.com/josephlewis42/forksh/core/shell"
	"github.com/spf13/cobra"
)

var commandString string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the shell, interactively or for a single command line.",
	Args:  cobra.NoArgs,
	RunE:  runShell,
}

func addShellFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&commandString, "command", "c", "", "run the command line and exit")
}

func runShell(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	configuration, err := loadShellConfig()
	if err != nil {
		return err
	}

	eventLog, closeLog, err := openEventLog(configuration)
	if err != nil {
		return err
	}
	defer closeLog()

	sh, err := shell.NewShell(configuration, eventLog.NewSession())
	if err != nil {
		return err
	}
	defer sh.Close()

	if cmd.Flags().Changed("command") {
		sh.RunCommand(commandString)
		exitStatus = sh.ExitStatus()
		return nil
	}

	// Interrupts belong to the foreground job, the shell keeps running.
	// Children get the default disposition back on exec.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGQUIT)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
		}
	}()

	exitStatus, err = sh.RunInteractive()
	return err
}

// openEventLog opens the configured event log, events are dropped if it is
// disabled.
func openEventLog(configuration *config.Configuration) (*logger.Logger, func(), error) {
	fd, err := configuration.OpenEventLog()
	switch {
	case errors.Is(err, config.ErrNoEventLog):
		return logger.Discard(), func() {}, nil
	case err != nil:
		return nil, nil, err
	}

	return logger.NewJSONLinesLogRecorder(fd), func() { fd.Close() }, nil
}

func init() {
	addShellFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
