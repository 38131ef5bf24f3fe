package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"convo/internal/config"
	"convo/internal/logging"
	"convo/pkg/chat"
)

// programObserver forwards client updates into a running Bubble Tea
// program. Updates before the program is attached are dropped; the next
// update carries the full state anyway.
type programObserver struct {
	p atomic.Pointer[tea.Program]
}

// Update implements chat.Observer.
func (o *programObserver) Update(u chat.Update) {
	if p := o.p.Load(); p != nil {
		p.Send(updateMsg(u))
	}
}

func newChatCmd(flags *globalFlags) *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with the agent",
		Long: "Open an interactive session: transcript, task board (tab), inline prompts,\n" +
			"ctrl+x to cancel a turn, ctrl+r to reconnect, /compact to compact the session.\n" +
			"Without a terminal, each input line is sent as a turn and output is plain text.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if !logging.IsTerminal(os.Stdin) || !logging.IsTerminal(cmd.OutOrStdout()) {
				return runLineChat(cmd, cfg)
			}

			if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
				return fmt.Errorf("create %s: %w", cfg.Home, err)
			}
			logFile, err := logging.OpenFile(cfg.LogPath())
			if err != nil {
				return err
			}
			defer func() { _ = logFile.Close() }()
			logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Writer: logFile})
			if err != nil {
				return err
			}

			obs := &programObserver{}
			s, err := newSession(cmd.Context(), cfg, logger, obs)
			if err != nil {
				return err
			}
			model := newChatModel(s.client, s.connect, cfg.Board, style)
			program := tea.NewProgram(model, tea.WithAltScreen())
			obs.p.Store(program)

			s.start(cmd.Context())
			_, runErr := program.Run()
			return errors.Join(runErr, s.close())
		},
	}
	cmd.Flags().StringVar(&style, "style", "dark", "markdown style: dark, light, notty or empty to disable")
	return cmd
}

// runLineChat is chat without a terminal.
func runLineChat(cmd *cobra.Command, cfg config.Config) error {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Writer: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := newTailPrinter(cmd.OutOrStdout(), cfg.Board)
	s, err := newSession(ctx, cfg, logger, p)
	if err != nil {
		return err
	}
	s.start(ctx)
	if err := s.connect(); err != nil {
		return errors.Join(err, s.close())
	}
	err = lineMode(ctx, s.client, p, cmd.InOrStdin())
	return errors.Join(err, s.close())
}
