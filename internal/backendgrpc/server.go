package backendgrpc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/core"
	"pkt.systems/sessiondeck/internal/logx"
	"pkt.systems/sessiondeck/schema"
)

// Server exposes a core.Backend over gRPC and provides a ListenAndServe entrypoint.
type Server struct {
	cfg     Config
	backend core.Backend
	logger  pslog.Logger

	lastPingUnix int64
	// stopCtx ends open event streams when the listener shuts down.
	stopCtx context.Context
}

var _ backendService = (*Server)(nil)

// NewServer constructs a backend gRPC server.
func NewServer(cfg Config, backend core.Backend) *Server {
	return &Server{cfg: cfg, backend: backend}
}

// Register attaches the backend service to an existing gRPC server.
func (s *Server) Register(grpcServer *grpc.Server) {
	grpcServer.RegisterService(&serviceDesc, s)
}

// ListenAndServe starts the gRPC server over a Unix domain socket.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.cfg.SocketPath == "" {
		return errors.New("backend socket path is required")
	}
	if s.backend == nil {
		return schema.ErrBackendUnavailable
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o700); err != nil {
		return err
	}
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		_ = listener.Close()
		return err
	}
	grpcServer := grpc.NewServer()
	s.Register(grpcServer)
	s.logger.Info("backend grpc listening", "socket", s.cfg.SocketPath)

	errCh := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.stopCtx = runCtx
	s.setLastPing(time.Now())
	if s.cfg.KeepaliveInterval > 0 && s.cfg.KeepaliveMisses > 0 {
		go s.keepaliveLoop(runCtx, cancel, grpcServer)
	}
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-runCtx.Done():
		grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Connect opens a session on the wrapped backend.
func (s *Server) Connect(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := fromPBConnect(in)
	log := logx.WithServer(s.ctx(ctx), req.ServerID)
	if req.ServerID == "" {
		log.Warn("backend connect rejected", "err", "server id is required")
		return nil, status.Error(codes.InvalidArgument, "server id is required")
	}
	resp, err := s.backend.Connect(logx.ContextWithServer(s.ctx(ctx), req.ServerID), req)
	if err != nil {
		log.Warn("backend connect failed", "err", err, "code", schema.BackendErrorCodeOf(err))
		return nil, toStatus(err)
	}
	logx.WithSession(log, resp.SessionID).Info("backend connect ok")
	return sessionStruct(resp.SessionID), nil
}

// Disconnect closes a session on the wrapped backend.
func (s *Server) Disconnect(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sessionID := schema.SessionID(stringField(in, "session_id"))
	if err := s.backend.Disconnect(s.ctx(ctx), sessionID); err != nil {
		logx.WithSession(s.log(ctx), sessionID).Warn("backend disconnect failed", "err", err)
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// SendInput forwards keystrokes to a session.
func (s *Server) SendInput(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sessionID := schema.SessionID(stringField(in, "session_id"))
	data, err := bytesField(in, "data")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := s.backend.SendInput(s.ctx(ctx), sessionID, data)
	if err != nil {
		logx.WithSession(s.log(ctx), sessionID).Debug("backend input failed", "err", err)
		return nil, toStatus(err)
	}
	return toPBInputResponse(resp), nil
}

// Resize forwards a window-change request.
func (s *Server) Resize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := fromPBResize(in)
	if err := s.backend.Resize(s.ctx(ctx), req); err != nil {
		logx.WithSession(s.log(ctx), req.SessionID).Debug("backend resize failed", "err", err)
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// Ping updates the keepalive timer.
func (s *Server) Ping(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.setLastPing(time.Now())
	s.log(ctx).Trace("backend ping")
	return &structpb.Struct{Fields: map[string]*structpb.Value{"ok": structpb.NewBoolValue(true)}}, nil
}

// Events streams a session's output until EOF or until the client goes away.
func (s *Server) Events(in *structpb.Struct, stream grpc.ServerStream) error {
	sessionID := schema.SessionID(stringField(in, "session_id"))
	log := logx.WithSession(s.log(stream.Context()), sessionID)
	if sessionID == "" {
		return status.Error(codes.InvalidArgument, "session id is required")
	}
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	if s.stopCtx != nil {
		stop := context.AfterFunc(s.stopCtx, cancel)
		defer stop()
	}
	sub := s.backend.Subscribe(sessionID)
	defer func() { _ = sub.Close() }()
	log.Debug("backend events start")
	count := 0
	for {
		event, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("backend events stopped by context", "events", count)
				return nil
			}
			log.Debug("backend events stopped", "err", err, "events", count)
			return toStatus(err)
		}
		if err := stream.SendMsg(toPBOutputEvent(event)); err != nil {
			log.Warn("backend events send failed", "err", err, "events", count)
			return err
		}
		count++
		if event.EOF {
			log.Debug("backend events eof", "events", count)
			return nil
		}
	}
}

func (s *Server) ctx(ctx context.Context) context.Context {
	if s.logger != nil {
		return pslog.ContextWithLogger(ctx, s.logger)
	}
	return ctx
}

func (s *Server) log(ctx context.Context) pslog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return pslog.Ctx(ctx)
}

func (s *Server) setLastPing(ts time.Time) {
	atomic.StoreInt64(&s.lastPingUnix, ts.UnixNano())
}

func (s *Server) lastPing() time.Time {
	val := atomic.LoadInt64(&s.lastPingUnix)
	if val == 0 {
		return time.Time{}
	}
	return time.Unix(0, val)
}

func (s *Server) keepaliveLoop(ctx context.Context, cancel context.CancelFunc, grpcServer *grpc.Server) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := s.lastPing()
			if last.IsZero() {
				continue
			}
			if time.Since(last) > time.Duration(s.cfg.KeepaliveMisses)*s.cfg.KeepaliveInterval {
				s.logger.Warn("backend keepalive missed; shutting down", "last_ping", last.Format(time.RFC3339Nano), "interval", s.cfg.KeepaliveInterval, "misses", s.cfg.KeepaliveMisses)
				grpcServer.Stop()
				cancel()
				return
			}
		}
	}
}
