package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"convo/internal/config"
)

// executeCommand runs the root command with the given args and returns stdout, stderr, and error.
func executeCommand(args ...string) (stdout string, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// isolate points configuration at an empty home and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.EnvHome, home)
	for _, k := range []string{config.EnvEndpoint, config.EnvAgent, config.EnvToken, config.EnvTokenFile, config.EnvLogLevel} {
		t.Setenv(k, "")
	}
	return home
}

const sampleLog = `{"type":"ready","sessionId":"s-1"}
{"type":"text_delta","text":"Planning the work."}
{"type":"tool_use","id":"c1","name":"TodoWrite","input":{"todos":[{"content":"write code","status":"in_progress","activeForm":"Writing code"},{"content":"test it","status":"pending"}]}}
{"type":"tool_result","invocationId":"c1","content":"ok"}
{"type":"bogus"}
not json

{"type":"done","turnCount":1,"totalCostUsd":0.01}
`

func TestCLICommands(t *testing.T) {
	t.Run("root --help lists subcommands", func(t *testing.T) {
		out, _, err := executeCommand("--help")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{"convo", "chat", "tail", "replay", "config"} {
			if !strings.Contains(out, want) {
				t.Errorf("help missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("root --version prints version", func(t *testing.T) {
		out, _, err := executeCommand("--version")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(out, "convo ") {
			t.Errorf("version output = %q", out)
		}
	})

	t.Run("replay requires a file", func(t *testing.T) {
		if _, _, err := executeCommand("replay"); err == nil {
			t.Error("expected error without a file argument")
		}
	})
}

func TestConfigCommand(t *testing.T) {
	home := isolate(t)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("endpoint: wss://agents.example.com/ws\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvToken, "secret-token")

	out, _, err := executeCommand("config", "--agent", "reviewer")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if strings.Contains(out, "secret-token") {
		t.Errorf("token leaked:\n%s", out)
	}
	for _, want := range []string{"redacted", "endpoint: wss://agents.example.com/ws", "agent: reviewer", "retry_delay: 2s", "# file: " + filepath.Join(home, "config.yaml")} {
		if !strings.Contains(out, want) {
			t.Errorf("config output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "# invalid") {
		t.Errorf("valid config reported invalid:\n%s", out)
	}
}

func TestConfigCommandReportsInvalid(t *testing.T) {
	isolate(t)
	out, _, err := executeCommand("config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, "# invalid: endpoint is required") {
		t.Errorf("missing validation note:\n%s", out)
	}
}

func TestTailRequiresEndpoint(t *testing.T) {
	isolate(t)
	_, _, err := executeCommand("tail", "--once")
	if err == nil || !strings.Contains(err.Error(), "endpoint is required") {
		t.Errorf("tail error = %v", err)
	}
}

func TestTailRequiresCredentials(t *testing.T) {
	isolate(t)
	_, _, err := executeCommand("tail", "--endpoint", "ws://127.0.0.1:1/ws")
	if err == nil || !strings.Contains(err.Error(), "no credentials") {
		t.Errorf("tail error = %v", err)
	}
}

func TestReplayCommand(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(sampleLog), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("json", func(t *testing.T) {
		out, _, err := executeCommand("replay", path, "--json", "--log-level", "error")
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		var got struct {
			State struct {
				SessionID string `json:"sessionId"`
				TurnCount int    `json:"turnCount"`
			} `json:"state"`
			Board struct {
				Tasks []struct {
					Subject string `json:"subject"`
				} `json:"tasks"`
			} `json:"board"`
			Events  int `json:"events"`
			Skipped int `json:"skipped"`
		}
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("decode output: %v\n%s", err, out)
		}
		if got.State.SessionID != "s-1" || got.State.TurnCount != 1 {
			t.Errorf("state = %+v", got.State)
		}
		if got.Events != 5 || got.Skipped != 2 {
			t.Errorf("events/skipped = %d/%d, want 5/2", got.Events, got.Skipped)
		}
		if len(got.Board.Tasks) != 2 {
			t.Errorf("tasks = %+v", got.Board.Tasks)
		}
	})

	t.Run("text", func(t *testing.T) {
		out, _, err := executeCommand("replay", path, "--log-level", "error")
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		for _, want := range []string{"Planning the work.", "TodoWrite: 0/2 done", "Writing code", "Pending (1)", "events=5 skipped=2"} {
			if !strings.Contains(out, want) {
				t.Errorf("replay output missing %q:\n%s", want, out)
			}
		}
	})
}
