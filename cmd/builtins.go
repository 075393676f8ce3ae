package cmd

import (
	"fmt"
	"sort"

	"github.com/josephlewis42/forksh/core/shell"
	"github.com/spf13/cobra"
)

// builtinsCmd lists the commands that run inside the shell
var builtinsCmd = &cobra.Command{
	Use:   "builtins",
	Short: "Show the builtin commands of the shell.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var builtins []string

		for _, name := range shell.BuiltinNames() {
			builtins = append(builtins, "shell:"+name)
		}

		sort.Strings(builtins)

		for _, v := range builtins {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(builtinsCmd)
}
