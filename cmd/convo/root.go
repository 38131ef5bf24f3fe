package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"convo/internal/appversion"
	"convo/internal/config"
)

// globalFlags override the loaded configuration. Empty means unset.
type globalFlags struct {
	endpoint  string
	agent     string
	session   string
	tokenFile string
	logLevel  string
}

// newRootCmd creates the root convo command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var flags globalFlags
	cmd := &cobra.Command{
		Use:           "convo",
		Short:         "Streaming agent session client",
		Long:          "convo talks to a remote agent backend over a streaming session protocol.\nIt keeps the transcript and task board in sync across reconnects.",
		Version:       fmt.Sprintf("convo %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.endpoint, "endpoint", "", "WebSocket endpoint (ws:// or wss://)")
	pf.StringVar(&flags.agent, "agent", "", "agent to talk to")
	pf.StringVar(&flags.session, "session", "", "session id to resume")
	pf.StringVar(&flags.tokenFile, "token-file", "", "file holding the bearer token")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(
		newChatCmd(&flags),
		newTailCmd(&flags),
		newReplayCmd(&flags),
		newConfigCmd(&flags),
	)

	return cmd
}

// load resolves the configuration and applies flag overrides.
func (f *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	f.apply(&cfg)
	return cfg, nil
}

func (f *globalFlags) apply(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Endpoint, f.endpoint)
	set(&cfg.AgentID, f.agent)
	set(&cfg.SessionID, f.session)
	set(&cfg.TokenFile, f.tokenFile)
	set(&cfg.LogLevel, f.logLevel)
}
