package backendgrpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/core"
	"pkt.systems/sessiondeck/internal/logx"
	"pkt.systems/sessiondeck/schema"
)

// Client implements core.Backend over gRPC.
type Client struct {
	conn   *grpc.ClientConn
	logger pslog.Logger
}

var _ core.Backend = (*Client)(nil)

// Dial creates a new backend client over a Unix domain socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	if socketPath == "" {
		return nil, errors.New("backend socket path is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", addr)
	}
	target := "passthrough:///" + socketPath
	conn, err := grpc.NewClient(
		target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, logger: pslog.Ctx(ctx)}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping sends a keepalive ping to the backend.
func (c *Client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return errors.New("backend client not initialized")
	}
	return c.invoke(ctx, methodPing, &structpb.Struct{}, new(structpb.Struct))
}

// KeepAlive pings the backend every interval until ctx ends.
func (c *Client) KeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			if err := c.Ping(pingCtx); err != nil && ctx.Err() == nil {
				logGRPCError(pslog.Ctx(ctx), "backend grpc ping failed", err)
			}
			cancel()
		}
	}
}

// Connect opens a session.
func (c *Client) Connect(ctx context.Context, req schema.BackendConnectRequest) (schema.BackendConnectResponse, error) {
	log := logx.WithServer(ctx, req.ServerID)
	out := new(structpb.Struct)
	if err := c.invoke(ctx, methodConnect, toPBConnect(req), out); err != nil {
		logGRPCError(log, "backend grpc connect failed", err)
		return schema.BackendConnectResponse{}, wrapBackendError(err)
	}
	sessionID := schema.SessionID(stringField(out, "session_id"))
	log.Debug("backend grpc connect ok", "session", sessionID)
	return schema.BackendConnectResponse{SessionID: sessionID}, nil
}

// Disconnect closes a session.
func (c *Client) Disconnect(ctx context.Context, sessionID schema.SessionID) error {
	if err := c.invoke(ctx, methodDisconnect, sessionStruct(sessionID), new(structpb.Struct)); err != nil {
		logGRPCError(logx.WithSession(pslog.Ctx(ctx), sessionID), "backend grpc disconnect failed", err)
		return wrapBackendError(err)
	}
	return nil
}

// SendInput forwards keystrokes.
func (c *Client) SendInput(ctx context.Context, sessionID schema.SessionID, data []byte) (schema.InputResponse, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, methodSendInput, inputStruct(sessionID, data), out); err != nil {
		return schema.InputResponse{}, wrapBackendError(err)
	}
	return fromPBInputResponse(out)
}

// Resize forwards a window-change request.
func (c *Client) Resize(ctx context.Context, req schema.ResizeRequest) error {
	if err := c.invoke(ctx, methodResize, toPBResize(req), new(structpb.Struct)); err != nil {
		return wrapBackendError(err)
	}
	return nil
}

// Subscribe opens the session's event stream. A stream that breaks before EOF
// is reported as EOF so the session is seen as ended.
func (c *Client) Subscribe(sessionID schema.SessionID) core.Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	log := logx.WithSession(c.logger, sessionID)
	sub := &eventStream{
		sessionID: sessionID,
		cancel:    cancel,
		events:    make(chan schema.OutputEvent, 256),
		done:      make(chan struct{}),
	}
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod(streamEvents))
	if err == nil {
		err = stream.SendMsg(sessionStruct(sessionID))
	}
	if err == nil {
		err = stream.CloseSend()
	}
	if err != nil {
		logGRPCError(log, "backend grpc events open failed", err)
		sub.fail(wrapBackendError(err))
		return sub
	}
	go sub.consume(stream, log)
	return sub
}

func (c *Client) invoke(ctx context.Context, method string, in, out *structpb.Struct) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out)
}

type eventStream struct {
	sessionID schema.SessionID
	cancel    context.CancelFunc
	events    chan schema.OutputEvent
	done      chan struct{}

	mu        sync.Mutex
	streamErr error
	closeOnce sync.Once
}

func (s *eventStream) consume(stream grpc.ClientStream, log pslog.Logger) {
	defer close(s.events)
	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if err != nil {
			if s.closed() {
				return
			}
			if errors.Is(err, io.EOF) {
				log.Debug("backend grpc events ended without eof")
			} else {
				logGRPCError(log, "backend grpc events failed", err)
			}
			s.deliver(schema.OutputEvent{SessionID: s.sessionID, EOF: true})
			return
		}
		event, err := fromPBOutputEvent(msg)
		if err != nil {
			log.Warn("backend grpc event decode failed", "err", err)
			continue
		}
		if event.SessionID == "" {
			event.SessionID = s.sessionID
		}
		if !s.deliver(event) || event.EOF {
			return
		}
	}
}

func (s *eventStream) deliver(event schema.OutputEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.done:
		return false
	}
}

func (s *eventStream) fail(err error) {
	s.mu.Lock()
	s.streamErr = err
	s.mu.Unlock()
	close(s.events)
}

func (s *eventStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *eventStream) Next(ctx context.Context) (schema.OutputEvent, error) {
	select {
	case event, ok := <-s.events:
		if !ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.streamErr != nil {
				return schema.OutputEvent{}, s.streamErr
			}
			return schema.OutputEvent{}, io.EOF
		}
		return event, nil
	case <-s.done:
		return schema.OutputEvent{}, context.Canceled
	case <-ctx.Done():
		return schema.OutputEvent{}, ctx.Err()
	}
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
	return nil
}
