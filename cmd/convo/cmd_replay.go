package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"convo/internal/logging"
	"convo/pkg/board"
	"convo/pkg/protocol"
	"convo/pkg/reducer"
	"convo/pkg/transcript"
)

// maxReplayLine bounds one recorded frame.
const maxReplayLine = 8 << 20

// replayResult is what replaying a recorded event log produces.
type replayResult struct {
	State      reducer.State      `json:"state"`
	Transcript []transcript.Entry `json:"transcript"`
	Board      board.Board        `json:"board"`
	Events     int                `json:"events"`
	Skipped    int                `json:"skipped"`
}

// replay feeds a JSON-lines server event log through a fresh reducer.
// Lines that do not decode are logged and skipped.
func replay(r io.Reader, agentID string, vocab board.Vocabulary, logger *slog.Logger) (replayResult, error) {
	red := reducer.New(reducer.Config{AgentID: agentID, Logger: logger})
	red.Connecting()
	red.Opened()

	var res replayResult
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	line := 0
	for sc.Scan() {
		line++
		data := sc.Bytes()
		if len(data) == 0 {
			continue
		}
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			logger.Warn("skipping frame", "line", line, "error", err)
			res.Skipped++
			continue
		}
		red.Apply(ev)
		res.Events++
	}
	if err := sc.Err(); err != nil {
		return replayResult{}, fmt.Errorf("read event log: %w", err)
	}

	res.State = red.State()
	res.Transcript = red.Transcript()
	res.Board = vocab.Merge(board.DefaultVocabulary()).Derive(res.Transcript)
	return res, nil
}

func newReplayCmd(flags *globalFlags) *cobra.Command {
	var (
		asJSON bool
		width  int
	)
	cmd := &cobra.Command{
		Use:   "replay <file.jsonl>",
		Short: "Rebuild a transcript and task board from a recorded event log",
		Long: "Read one server event per line, apply them offline, and print the resulting\n" +
			"transcript and task board. Use - to read standard input.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Writer: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open event log: %w", err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}

			res, err := replay(in, cfg.AgentID, cfg.Board, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			for _, e := range res.Transcript {
				if e.Role == transcript.RoleAssistant && e.Text() == "" {
					continue
				}
				fmt.Fprintln(out, formatEntry(e, cfg.Board))
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderBoard(res.Board, DefaultTheme(), width))
			fmt.Fprintf(out, "\n%s  events=%d skipped=%d\n", formatState(res.State), res.Events, res.Skipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().IntVar(&width, "width", 100, "board width in columns")
	return cmd
}
