package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"convo/internal/appversion"
	"convo/pkg/protocol"
)

// maxFrameBytes bounds a single server frame. Tool results can be large.
const maxFrameBytes = 8 << 20

// WebSocketDialer dials the backend over WebSocket.
type WebSocketDialer struct {
	// HTTPClient is used for the upgrade request. Nil means http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives skipped-frame diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("User-Agent", "convo/"+appversion.String())

	c, resp, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial %s: %w", RedactURL(rawURL), err)
	}
	c.SetReadLimit(maxFrameBytes)
	return &wsConn{c: c, logger: logger.With("component", "transport")}, nil
}

type wsConn struct {
	c      *websocket.Conn
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (w *wsConn) Receive(ctx context.Context) (protocol.Event, error) {
	for {
		typ, data, err := w.c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("read frame: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			w.logger.Warn("skipping undecodable frame", "error", err, "bytes", len(data))
			continue
		}
		return ev, nil
	}
}

func (w *wsConn) Send(ctx context.Context, msg protocol.ClientMessage) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := w.c.Write(ctx, websocket.MessageText, data); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.c.Close(websocket.StatusNormalClosure, "")
	})
	return w.closeErr
}
