package sessiondeck

import (
	"context"
	"errors"
	"io"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/core"
	"pkt.systems/sessiondeck/internal/backendgrpc"
	"pkt.systems/sessiondeck/internal/sshbackend"
)

// Server runs the privileged backend: protocol sessions exposed on a local gRPC socket.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the backend compositor.
type ServerConfig struct {
	Listener backendgrpc.Config
	SSH      sshbackend.Config
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	// Servers resolves server records for the SSH backend.
	Servers sshbackend.ServerLookup
	// Backend replaces the SSH backend when set.
	Backend core.Backend
	Logger  pslog.Logger
}

// New constructs the backend server.
func New(cfg ServerConfig, deps ServerDeps) (Server, error) {
	if cfg.Listener.SocketPath == "" {
		return nil, errors.New("backend socket path is required")
	}
	backend := deps.Backend
	if backend == nil {
		if deps.Servers == nil {
			return nil, errors.New("server lookup dependency is required")
		}
		ssh, err := sshbackend.New(cfg.SSH, deps.Servers, deps.Logger)
		if err != nil {
			return nil, err
		}
		backend = ssh
	}
	return &compositeServer{
		cfg:      cfg,
		backend:  backend,
		listener: backendgrpc.NewServer(cfg.Listener, backend),
	}, nil
}

type compositeServer struct {
	cfg      ServerConfig
	backend  core.Backend
	listener *backendgrpc.Server
	logger   pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan error, 1)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"socket", s.cfg.Listener.SocketPath,
		"keepalive_interval", s.cfg.Listener.KeepaliveInterval,
		"insecure_host_keys", s.cfg.SSH.InsecureIgnoreHostKey,
	)
	go func() {
		err := s.listener.ListenAndServe(s.ctx)
		if err != nil {
			log.Error("backend listener failed", "err", err)
		}
		s.done <- err
	}()
	return nil
}

// Wait blocks until the listener exits. A keepalive shutdown is a clean exit.
func (s *compositeServer) Wait() error {
	s.mu.Lock()
	done := s.done
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	err := <-done
	s.closeBackend()
	if err != nil {
		s.logger.Error("server stopped", "err", err)
		return err
	}
	return nil
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	runCtx := s.ctx
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	s.closeBackend()
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-runCtx.Done():
		log.Info("server stopped")
		return nil
	}
}

func (s *compositeServer) closeBackend() {
	closer, ok := s.backend.(io.Closer)
	if !ok {
		return
	}
	log := s.logger
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	if err := closer.Close(); err != nil {
		log.Warn("server backend close failed", "err", err)
		return
	}
	log.Info("server backend close ok")
}
