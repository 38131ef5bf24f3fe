package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"convo/internal/config"
	"convo/pkg/chat"
	"convo/pkg/conn"
	"convo/pkg/credential"
	"convo/pkg/transport"
)

// errNoCredentials is returned when neither a token nor a token file is set.
var errNoCredentials = fmt.Errorf("no credentials: set token_file, %s or %s", config.EnvTokenFile, config.EnvToken)

// session is a chat client wired to a live connection manager.
type session struct {
	cfg     config.Config
	manager *conn.Manager
	client  *chat.Client
	logger  *slog.Logger

	stop context.CancelFunc
	errc chan error
}

// newCredentials prefers a watched token file over a static token.
func newCredentials(ctx context.Context, cfg config.Config, logger *slog.Logger) (credential.Provider, error) {
	switch {
	case cfg.TokenFile != "":
		if _, err := os.Stat(cfg.TokenFile); err != nil {
			return nil, fmt.Errorf("token file: %w", err)
		}
		f := credential.NewFile(cfg.TokenFile, logger)
		if err := f.Watch(ctx); err != nil {
			logger.Warn("token file not watched", "path", cfg.TokenFile, "error", err)
		}
		return f, nil
	case cfg.Token != "":
		return credential.Static(cfg.Token), nil
	}
	return nil, errNoCredentials
}

func newSession(ctx context.Context, cfg config.Config, logger *slog.Logger, obs chat.Observer) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	creds, err := newCredentials(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	mgr, err := conn.NewManager(conn.Config{
		Endpoint:         cfg.Endpoint,
		Dialer:           &transport.WebSocketDialer{Logger: logger},
		Credentials:      creds,
		Logger:           logger,
		RetryDelay:       cfg.RetryDelay.D(),
		RetryJitter:      cfg.RetryJitter.D(),
		MaxAttempts:      cfg.MaxAttempts,
		HandshakeTimeout: cfg.HandshakeTimeout.D(),
	})
	if err != nil {
		return nil, err
	}
	client, err := chat.New(chat.Config{
		Conn:                 mgr,
		AgentID:              cfg.AgentID,
		SessionID:            cfg.SessionID,
		Logger:               logger,
		Observer:             obs,
		Vocabulary:           cfg.Board,
		PromptTimeout:        cfg.PromptTimeout.D(),
		SessionRecoveryDelay: cfg.SessionRecoveryDelay.D(),
	})
	if err != nil {
		mgr.Close()
		return nil, err
	}
	return &session{cfg: cfg, manager: mgr, client: client, logger: logger}, nil
}

// start runs the client loop until close.
func (s *session) start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(ctx)
	s.errc = make(chan error, 1)
	go func() { s.errc <- s.client.Run(ctx) }()
}

// connect dials the configured agent and session.
func (s *session) connect() error {
	s.logger.Info("connecting", "endpoint", transport.RedactURL(s.cfg.Endpoint), "agent", s.cfg.AgentID)
	if err := s.client.Connect(s.cfg.AgentID, s.cfg.SessionID); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// close stops the loop, tears the connection down and waits for Run.
func (s *session) close() error {
	if s.stop == nil {
		s.manager.Close()
		return nil
	}
	s.stop()
	s.manager.Close()
	err := <-s.errc
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
