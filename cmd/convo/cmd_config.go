package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Long:  "Print the configuration after defaults, the config file, environment and flags are applied.\nThe token is redacted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# home: %s\n", cfg.Home)
			if cfg.File != "" {
				fmt.Fprintf(out, "# file: %s\n", cfg.File)
			} else {
				fmt.Fprintln(out, "# file: none")
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "# invalid: %s\n", strings.ReplaceAll(err.Error(), "\n", "; "))
			}
			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = out.Write(data)
			return err
		},
	}
}
