package sshbackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/core"
	"pkt.systems/sessiondeck/internal/eventbus"
	"pkt.systems/sessiondeck/internal/logx"
	"pkt.systems/sessiondeck/schema"
)

// ServerLookup resolves stored server records.
type ServerLookup interface {
	Get(ctx context.Context, id schema.ServerID) (schema.Server, error)
}

// Backend owns SSH connections and publishes their output on an event bus.
// Input is written to the remote shell and echoed back through the stream.
type Backend struct {
	cfg     Config
	servers ServerLookup
	bus     *eventbus.Bus
	log     pslog.Logger

	mu       sync.Mutex
	sessions map[schema.SessionID]*session
}

type session struct {
	id       schema.SessionID
	serverID schema.ServerID
	client   *ssh.Client
	shell    *ssh.Session
	stdin    io.WriteCloser
	stdout   io.Reader
	log      pslog.Logger

	stop      chan struct{}
	closeOnce sync.Once
	// writeMu keeps concurrent input batches from interleaving.
	writeMu sync.Mutex
}

// New constructs a Backend.
func New(cfg Config, servers ServerLookup, logger pslog.Logger) (*Backend, error) {
	if servers == nil {
		return nil, errors.New("server lookup is required")
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Backend{
		cfg:      cfg.withDefaults(),
		servers:  servers,
		bus:      eventbus.New(logger),
		log:      logger,
		sessions: make(map[schema.SessionID]*session),
	}, nil
}

var _ core.Backend = (*Backend)(nil)

// Connect dials the server, authenticates, requests a PTY and starts a shell.
func (b *Backend) Connect(ctx context.Context, req schema.BackendConnectRequest) (schema.BackendConnectResponse, error) {
	log := logx.WithServer(ctx, req.ServerID)
	if err := schema.ValidateCredentials(req.Credentials); err != nil {
		return schema.BackendConnectResponse{}, &schema.BackendError{Code: schema.BackendErrorInvalid, Message: err.Error(), Err: err}
	}
	server, err := b.servers.Get(ctx, req.ServerID)
	if err != nil {
		if errors.Is(err, schema.ErrServerNotFound) {
			return schema.BackendConnectResponse{}, &schema.BackendError{Code: schema.BackendErrorNotFound, Message: "Server not found", Err: err}
		}
		return schema.BackendConnectResponse{}, &schema.BackendError{Code: schema.BackendErrorUnknown, Message: err.Error(), Err: err}
	}
	if server.Protocol == schema.ProtocolFTP {
		return schema.BackendConnectResponse{}, schema.NewBackendError(schema.BackendErrorInvalid, "FTP servers do not support terminal sessions")
	}
	port := server.Port
	if port == 0 {
		port = schema.DefaultSSHPort
	}
	addr := net.JoinHostPort(server.Host, strconv.Itoa(port))
	log = log.With("addr", addr, "user", server.Username)

	auth, method, agentConn, err := b.authMethod(req.Credentials)
	if err != nil {
		log.Warn("ssh connect failed", "err", err)
		return schema.BackendConnectResponse{}, err
	}
	if agentConn != nil {
		defer func() { _ = agentConn.Close() }()
	}
	hostKeys, err := b.hostKeyCallback()
	if err != nil {
		log.Warn("ssh connect failed", "err", err)
		return schema.BackendConnectResponse{}, &schema.BackendError{Code: schema.BackendErrorConnection, Message: err.Error(), Err: err}
	}
	log.Info("ssh connect start", "auth", method)

	dialer := net.Dialer{Timeout: b.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		log.Warn("ssh connect failed", "err", err)
		return schema.BackendConnectResponse{}, &schema.BackendError{
			Code:    schema.BackendErrorConnection,
			Message: fmt.Sprintf("Failed to connect to %s: %v", addr, err),
			Err:     err,
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(b.cfg.DialTimeout))
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            server.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeys,
		Timeout:         b.cfg.DialTimeout,
	})
	if err != nil {
		_ = conn.Close()
		classified := classifyHandshake(err)
		log.Warn("ssh connect failed", "err", err, "code", classified.Code)
		return schema.BackendConnectResponse{}, classified
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(clientConn, chans, reqs)

	s, err := b.openShell(client)
	if err != nil {
		_ = client.Close()
		log.Warn("ssh shell failed", "err", err)
		return schema.BackendConnectResponse{}, &schema.BackendError{Code: schema.BackendErrorSession, Message: err.Error(), Err: err}
	}
	s.serverID = server.ID
	s.log = logx.WithSession(log, s.id)

	b.mu.Lock()
	b.sessions[s.id] = s
	b.mu.Unlock()

	go b.pump(s)
	if b.cfg.KeepAlive > 0 {
		go b.keepAlive(s)
	}
	s.log.Info("ssh connect ok")
	return schema.BackendConnectResponse{SessionID: s.id}, nil
}

func (b *Backend) openShell(client *ssh.Client) (*session, error) {
	shell, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session channel: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := shell.RequestPty(b.cfg.TermType, b.cfg.Rows, b.cfg.Cols, modes); err != nil {
		_ = shell.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	stdin, err := shell.StdinPipe()
	if err != nil {
		_ = shell.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := shell.StdoutPipe()
	if err != nil {
		_ = shell.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := shell.Shell(); err != nil {
		_ = shell.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}
	return &session{
		id:     schema.SessionID(uuid.NewString()),
		client: client,
		shell:  shell,
		stdin:  stdin,
		stdout: stdout,
		stop:   make(chan struct{}),
	}, nil
}

// pump publishes remote output in order and a single EOF once the channel ends.
func (b *Backend) pump(s *session) {
	buf := make([]byte, 8192)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			b.bus.Publish(schema.OutputEvent{SessionID: s.id, Data: data})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("ssh read stopped", "err", err)
			}
			break
		}
	}
	if b.remove(s.id) {
		b.bus.Publish(schema.OutputEvent{SessionID: s.id, EOF: true})
		s.log.Info("ssh session eof")
		id, log := s.id, s.log
		time.AfterFunc(b.cfg.EndedRetention, func() {
			b.bus.Forget(id)
			log.Trace("ssh session backlog released")
		})
	} else {
		// Disconnected locally; drop output that raced the close.
		b.bus.Forget(s.id)
	}
	b.closeSession(s)
}

func (b *Backend) keepAlive(s *session) {
	ticker := time.NewTicker(b.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if _, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				s.log.Warn("ssh keepalive failed", "err", err)
			}
		}
	}
}

// Disconnect closes the session. Unknown sessions are not an error.
func (b *Backend) Disconnect(ctx context.Context, sessionID schema.SessionID) error {
	log := logx.WithSession(pslog.Ctx(ctx), sessionID)
	b.mu.Lock()
	s := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	b.bus.Forget(sessionID)
	if s == nil {
		log.Debug("ssh disconnect miss")
		return nil
	}
	b.closeSession(s)
	log.Info("ssh disconnect ok")
	return nil
}

// SendInput writes keystrokes to the remote shell. Echo arrives through the stream.
func (b *Backend) SendInput(_ context.Context, sessionID schema.SessionID, data []byte) (schema.InputResponse, error) {
	s, err := b.session(sessionID)
	if err != nil {
		return schema.InputResponse{}, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(data); err != nil {
		return schema.InputResponse{}, &schema.BackendError{Code: schema.BackendErrorSession, Message: "write to session failed: " + err.Error(), Err: err}
	}
	return schema.InputResponse{}, nil
}

// Resize sends a window-change request.
func (b *Backend) Resize(_ context.Context, req schema.ResizeRequest) error {
	if req.Cols <= 0 || req.Rows <= 0 {
		return schema.NewBackendError(schema.BackendErrorInvalid, "terminal size must be positive")
	}
	s, err := b.session(req.SessionID)
	if err != nil {
		return err
	}
	if err := s.shell.WindowChange(req.Rows, req.Cols); err != nil {
		return &schema.BackendError{Code: schema.BackendErrorSession, Message: "window change failed: " + err.Error(), Err: err}
	}
	return nil
}

// Subscribe returns the ordered output stream of a session.
func (b *Backend) Subscribe(sessionID schema.SessionID) core.Subscription {
	return b.bus.Subscribe(sessionID)
}

// Sessions returns the number of live sessions.
func (b *Backend) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Close disconnects every session.
func (b *Backend) Close() error {
	b.mu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for id, s := range b.sessions {
		sessions = append(sessions, s)
		delete(b.sessions, id)
	}
	b.mu.Unlock()
	for _, s := range sessions {
		b.bus.Forget(s.id)
		b.closeSession(s)
	}
	return nil
}

func (b *Backend) session(sessionID schema.SessionID) (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, schema.NewBackendError(schema.BackendErrorNotFound, "Session not found")
	}
	return s, nil
}

func (b *Backend) remove(sessionID schema.SessionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[sessionID]; !ok {
		return false
	}
	delete(b.sessions, sessionID)
	return true
}

func (b *Backend) closeSession(s *session) {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.shell.Close()
		_ = s.client.Close()
	})
}
