package transport_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"convo/pkg/protocol"
	"convo/pkg/transport"
)

func TestBuildURL(t *testing.T) {
	t.Parallel()

	got, err := transport.BuildURL("wss://api.example.com/ws?v=2", "tok", "coder", "s-1")
	if err != nil {
		t.Fatalf("BuildURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("token") != "tok" || q.Get("agentId") != "coder" || q.Get("sessionId") != "s-1" || q.Get("v") != "2" {
		t.Errorf("query = %v", q)
	}

	got, err = transport.BuildURL("ws://localhost:8080/ws?sessionId=old", "tok", "coder", "")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "sessionId") {
		t.Errorf("stale sessionId kept: %s", got)
	}

	if _, err := transport.BuildURL("https://api.example.com", "tok", "", ""); err == nil {
		t.Error("https scheme accepted")
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	got := transport.RedactURL("wss://h/ws?token=secret&agentId=a")
	if strings.Contains(got, "secret") {
		t.Errorf("token leaked: %s", got)
	}
}

func TestIsAuthFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{&transport.HandshakeError{StatusCode: http.StatusUnauthorized}, true},
		{&transport.HandshakeError{StatusCode: http.StatusForbidden}, true},
		{fmt.Errorf("wrapped: %w", &transport.HandshakeError{StatusCode: 401}), true},
		{&transport.HandshakeError{StatusCode: http.StatusBadGateway}, false},
		{errors.New("connection refused"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := transport.IsAuthFailure(tt.err); got != tt.want {
			t.Errorf("IsAuthFailure(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	t.Parallel()

	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		ctx := r.Context()
		_ = c.Write(ctx, websocket.MessageText, []byte(`garbage`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"mystery"}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"ready","sessionId":"s-9"}`))
		_, data, err := c.Read(ctx)
		if err == nil {
			received <- string(data)
		}
		_ = c.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialer := &transport.WebSocketDialer{}

	badURL, _ := transport.BuildURL(endpoint, "bad", "", "")
	if _, err := dialer.Dial(ctx, badURL); !transport.IsAuthFailure(err) {
		t.Fatalf("bad token: err = %v, want auth failure", err)
	}

	goodURL, _ := transport.BuildURL(endpoint, "good", "", "")
	conn, err := dialer.Dial(ctx, goodURL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ev, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	ready, ok := ev.(protocol.Ready)
	if !ok || ready.SessionID != "s-9" {
		t.Fatalf("first event = %#v, want Ready{s-9}", ev)
	}

	if err := conn.Send(ctx, protocol.CancelRequest{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-received:
		if got != `{"type":"cancel_request"}` {
			t.Errorf("server got %s", got)
		}
	case <-ctx.Done():
		t.Fatal("server never received message")
	}

	if _, err := conn.Receive(ctx); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Receive after server close: err = %v, want ErrClosed", err)
	}
}
