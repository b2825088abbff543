package sessiondeck

import (
	"context"
	"errors"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/core"
	"pkt.systems/sessiondeck/internal/backendgrpc"
	"pkt.systems/sessiondeck/schema"
)

// ClientConfig configures a UI-side deck bound to a running backend.
type ClientConfig struct {
	Deck       schema.DeckConfig
	SocketPath string
	// KeepaliveInterval pings the backend so a watchdog-enabled backend stays up.
	KeepaliveInterval time.Duration
}

// ClientDeps captures optional dependencies for Open.
type ClientDeps struct {
	// Backend replaces the gRPC connection when set.
	Backend  core.Backend
	TabSinks []core.TabSink
	Logger   pslog.Logger
}

// Client owns a deck and the backend connection behind it.
type Client struct {
	deck   core.Deck
	conn   *backendgrpc.Client
	cancel context.CancelFunc
}

// Open dials the backend and builds the deck. Persisted tabs are restored.
func Open(ctx context.Context, cfg ClientConfig, deps ClientDeps) (*Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	backend := deps.Backend
	var conn *backendgrpc.Client
	if backend == nil {
		if cfg.SocketPath == "" {
			return nil, errors.New("backend socket path is required")
		}
		dialed, err := backendgrpc.Dial(pslog.ContextWithLogger(ctx, logger), cfg.SocketPath)
		if err != nil {
			return nil, err
		}
		conn = dialed
		backend = dialed
	}
	deck, err := core.NewDeck(cfg.Deck, core.DeckDeps{
		Backend: backend,
		TabSink: buildTabSink(logger, deps.TabSinks),
		Logger:  logger,
	})
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, err
	}
	keepCtx, cancel := context.WithCancel(pslog.ContextWithLogger(context.Background(), logger))
	if conn != nil && cfg.KeepaliveInterval > 0 {
		go conn.KeepAlive(keepCtx, cfg.KeepaliveInterval)
	}
	logger.Debug("client open", "socket", cfg.SocketPath, "profile", cfg.Deck.Profile)
	return &Client{deck: deck, conn: conn, cancel: cancel}, nil
}

// Deck returns the session deck.
func (c *Client) Deck() core.Deck {
	return c.deck
}

// Ping checks that the backend answers.
func (c *Client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Ping(ctx)
}

// Close disconnects live sessions, persists UI state and drops the connection.
func (c *Client) Close(ctx context.Context) error {
	c.cancel()
	err := c.deck.Close(ctx)
	if c.conn != nil {
		if closeErr := c.conn.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}
