package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"convo/internal/logging"
	"convo/pkg/board"
	"convo/pkg/chat"
	"convo/pkg/reducer"
	"convo/pkg/transcript"
)

// tailPrinter is a chat.Observer that writes finished entries, notices and
// prompts as plain text.
type tailPrinter struct {
	w     io.Writer
	vocab board.Vocabulary

	printed   map[string]bool
	lastState string
	sawTurn   bool

	// turnEnded receives one value per finished turn.
	turnEnded chan struct{}
	// stopped receives the error of a blocking notice.
	stopped  chan error
	stopOnce sync.Once
}

func newTailPrinter(w io.Writer, vocab board.Vocabulary) *tailPrinter {
	return &tailPrinter{
		w:         w,
		vocab:     vocab.Merge(board.DefaultVocabulary()),
		printed:   make(map[string]bool),
		turnEnded: make(chan struct{}, 64),
		stopped:   make(chan error, 1),
	}
}

// Update implements chat.Observer.
func (p *tailPrinter) Update(u chat.Update) {
	if s := formatState(u.State); s != p.lastState {
		fmt.Fprintf(p.w, "[%s]\n", s)
		p.lastState = s
	}
	for _, e := range u.Transcript {
		if p.printed[e.ID] || !finished(e) {
			continue
		}
		p.printed[e.ID] = true
		fmt.Fprintln(p.w, formatEntry(e, p.vocab))
	}
	for _, eff := range u.Effects {
		p.effect(eff)
	}

	switch {
	case u.State.TurnActive:
		p.sawTurn = true
	case p.sawTurn:
		p.sawTurn = false
		select {
		case p.turnEnded <- struct{}{}:
		default:
		}
	}
}

func (p *tailPrinter) effect(eff reducer.Effect) {
	switch e := eff.(type) {
	case reducer.Notice:
		fmt.Fprintf(p.w, "[%s] %s\n", e.Level, e.Text)
		if e.Blocking {
			p.stopOnce.Do(func() { p.stopped <- errors.New(e.Text) })
		}
	case reducer.ShowModal:
		fmt.Fprintln(p.w, formatPrompt(e.Prompt))
		fmt.Fprintf(p.w, "[prompt %s open for %s; answer it in an interactive chat]\n", e.Prompt.ID, e.Timeout)
	case reducer.CloseModal:
		fmt.Fprintf(p.w, "[prompt %s closed: %s]\n", e.PromptID, e.Reason)
	}
}

// finished reports whether e will not change any more.
func finished(e transcript.Entry) bool {
	if e.Role != transcript.RoleAssistant {
		return true
	}
	return !e.Streaming && strings.TrimSpace(e.Text()) != ""
}

func newTailCmd(flags *globalFlags) *cobra.Command {
	var (
		message string
		once    bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Connect and print the conversation as plain text",
		Long: "Connect to the agent, optionally send one message, and print entries, notices and\n" +
			"prompts as they arrive. With --once, exit when the first turn finishes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
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
			if message != "" {
				if err := s.client.SendText(message); err != nil {
					return errors.Join(err, s.close())
				}
			}

			var turns <-chan struct{}
			if once {
				turns = p.turnEnded
			}
			select {
			case <-ctx.Done():
			case <-turns:
			case err = <-p.stopped:
			}
			return errors.Join(err, s.close())
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to send once connected")
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first finished turn")
	return cmd
}

// lineMode drives a session from line-oriented input: each line is a chat
// turn, "/compact" and "/cancel" are commands. It returns once in is
// exhausted and every sent turn has finished.
func lineMode(ctx context.Context, c chatController, p *tailPrinter, in io.Reader) error {
	src := make(chan string)
	go func() {
		defer close(src)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case src <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var lines <-chan string = src
	pending := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-p.stopped:
			return err
		case <-p.turnEnded:
			if pending > 0 {
				pending--
			}
			if lines == nil && pending == 0 {
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				if pending == 0 {
					return nil
				}
				lines = nil
				continue
			}
			sent, err := runLine(c, line)
			if err != nil {
				return err
			}
			if sent {
				pending++
			}
		}
	}
}

// runLine executes one input line and reports whether it started a turn.
func runLine(c chatController, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false, nil
	case "/compact":
		return false, c.Compact()
	case "/cancel":
		return false, c.Cancel()
	}
	return true, c.SendText(line)
}
