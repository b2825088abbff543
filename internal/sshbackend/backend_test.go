package sshbackend

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"pkt.systems/sessiondeck/core"
	"pkt.systems/sessiondeck/schema"
)

type serverMap map[schema.ServerID]schema.Server

func (m serverMap) Get(_ context.Context, id schema.ServerID) (schema.Server, error) {
	server, ok := m[id]
	if !ok {
		return schema.Server{}, schema.ErrServerNotFound
	}
	return server, nil
}

type testSSHServer struct {
	addr     string
	port     int
	hostKey  ssh.Signer
	password string
	allowed  ssh.PublicKey
	terms    chan string
	windows  chan gliderssh.Window
	closed   chan struct{}
}

func newTestSSHServer(t *testing.T, allowed ssh.PublicKey) *testSSHServer {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ts := &testSSHServer{
		addr:     ln.Addr().String(),
		port:     ln.Addr().(*net.TCPAddr).Port,
		hostKey:  hostSigner,
		password: "secret",
		allowed:  allowed,
		terms:    make(chan string, 4),
		windows:  make(chan gliderssh.Window, 8),
		closed:   make(chan struct{}, 4),
	}
	server := &gliderssh.Server{
		Handler: ts.handle,
		PasswordHandler: func(_ gliderssh.Context, password string) bool {
			return password == ts.password
		},
		PublicKeyHandler: func(_ gliderssh.Context, key gliderssh.PublicKey) bool {
			return ts.allowed != nil && gliderssh.KeysEqual(key, ts.allowed)
		},
	}
	server.AddHostKey(hostSigner)
	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() { _ = server.Close() })
	return ts
}

// handle echoes input, answers PING with PONG and exits on "exit".
func (ts *testSSHServer) handle(sess gliderssh.Session) {
	defer func() {
		select {
		case ts.closed <- struct{}{}:
		default:
		}
	}()
	pty, winCh, ok := sess.Pty()
	if !ok {
		_, _ = io.WriteString(sess, "pty required\n")
		_ = sess.Exit(1)
		return
	}
	select {
	case ts.terms <- pty.Term:
	default:
	}
	go func() {
		for win := range winCh {
			select {
			case ts.windows <- win:
			default:
			}
		}
	}()
	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := sess.Read(buf)
		if err != nil {
			return
		}
		_, _ = sess.Write(buf[:n])
		line = append(line, buf[:n]...)
		for {
			idx := bytes.IndexByte(line, '\r')
			if idx < 0 {
				break
			}
			cmd := string(line[:idx])
			line = line[idx+1:]
			switch cmd {
			case "PING":
				_, _ = io.WriteString(sess, "PONG\r\n")
			case "exit":
				_, _ = io.WriteString(sess, "logout\r\n")
				_ = sess.Exit(0)
				return
			}
		}
	}
}

func (ts *testSSHServer) record(id schema.ServerID) schema.Server {
	return schema.Server{ID: id, Name: "test", Host: "127.0.0.1", Port: ts.port, Username: "deploy", Protocol: schema.ProtocolSSH}
}

func newTestBackend(t *testing.T, ts *testSSHServer, cfg Config) *Backend {
	t.Helper()
	if cfg.KnownHostsPath == "" && !cfg.InsecureIgnoreHostKey {
		cfg.InsecureIgnoreHostKey = true
	}
	if cfg.AgentSocket == "" {
		cfg.AgentSocket = filepath.Join(t.TempDir(), "no-agent.sock")
	}
	backend, err := New(cfg, serverMap{"s1": ts.record("s1")}, nil)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func readUntil(t *testing.T, sub core.Subscription, want string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out strings.Builder
	for !strings.Contains(out.String(), want) {
		event, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("waiting for %q: %v (got %q)", want, err, out.String())
		}
		out.Write(event.Data)
		if event.EOF {
			break
		}
	}
	return out.String()
}

func readToEOF(t *testing.T, sub core.Subscription) (string, int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out strings.Builder
	for {
		event, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("waiting for EOF: %v (got %q)", err, out.String())
		}
		out.Write(event.Data)
		if event.EOF {
			break
		}
	}
	extra := 0
	quiet, stop := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer stop()
	for {
		event, err := sub.Next(quiet)
		if err != nil {
			break
		}
		if event.EOF {
			extra++
		}
	}
	return out.String(), 1 + extra
}

func TestPasswordShellRoundTrip(t *testing.T) {
	ts := newTestSSHServer(t, nil)
	backend := newTestBackend(t, ts, Config{})
	ctx := context.Background()

	resp, err := backend.Connect(ctx, schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{Password: "secret"}})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("expected session id")
	}
	select {
	case term := <-ts.terms:
		if term != DefaultTermType {
			t.Fatalf("expected %s, got %s", DefaultTermType, term)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no pty request seen")
	}
	sub := backend.Subscribe(resp.SessionID)
	defer sub.Close()

	input, err := backend.SendInput(ctx, resp.SessionID, []byte("PING\r"))
	if err != nil {
		t.Fatalf("send input: %v", err)
	}
	if len(input.Data) != 0 || input.EOF {
		t.Fatalf("expected stream echo only, got %+v", input)
	}
	out := readUntil(t, sub, "PONG")
	if !strings.HasPrefix(out, "PING") {
		t.Fatalf("expected echo before reply, got %q", out)
	}

	if _, err := backend.SendInput(ctx, resp.SessionID, []byte("exit\r")); err != nil {
		t.Fatalf("send exit: %v", err)
	}
	out, eofs := readToEOF(t, sub)
	if !strings.Contains(out, "logout") {
		t.Fatalf("expected logout before EOF, got %q", out)
	}
	if eofs != 1 {
		t.Fatalf("expected exactly one EOF, got %d", eofs)
	}
	if backend.Sessions() != 0 {
		t.Fatalf("expected session removed after EOF")
	}
	_, err = backend.SendInput(ctx, resp.SessionID, []byte("x"))
	if schema.BackendErrorCodeOf(err) != schema.BackendErrorNotFound {
		t.Fatalf("expected not found after EOF, got %v", err)
	}
	if err := backend.Disconnect(ctx, resp.SessionID); err != nil {
		t.Fatalf("expected disconnect of ended session to succeed, got %v", err)
	}
}

func TestWrongPasswordIsAuthFailure(t *testing.T) {
	ts := newTestSSHServer(t, nil)
	backend := newTestBackend(t, ts, Config{})
	_, err := backend.Connect(context.Background(), schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{Password: "nope"}})
	if schema.BackendErrorCodeOf(err) != schema.BackendErrorAuth {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if err.Error() != "Authentication failed" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if backend.Sessions() != 0 {
		t.Fatalf("expected no session")
	}
}

func TestUnknownServerIsNotFound(t *testing.T) {
	ts := newTestSSHServer(t, nil)
	backend := newTestBackend(t, ts, Config{})
	_, err := backend.Connect(context.Background(), schema.BackendConnectRequest{ServerID: "missing", Credentials: schema.Credentials{Password: "secret"}})
	if schema.BackendErrorCodeOf(err) != schema.BackendErrorNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if err.Error() != "Server not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestUnreachableHostIsConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	backend, err := New(Config{InsecureIgnoreHostKey: true}, serverMap{
		"s1": {ID: "s1", Name: "gone", Host: "127.0.0.1", Port: port, Username: "deploy"},
	}, nil)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	_, err = backend.Connect(context.Background(), schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{Password: "secret"}})
	if schema.BackendErrorCodeOf(err) != schema.BackendErrorConnection {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestRejectsInvalidRequests(t *testing.T) {
	ts := newTestSSHServer(t, nil)
	backend, err := New(Config{InsecureIgnoreHostKey: true}, serverMap{
		"s1":  ts.record("s1"),
		"ftp": {ID: "ftp", Name: "files", Host: "127.0.0.1", Port: ts.port, Username: "u", Protocol: schema.ProtocolFTP},
	}, nil)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	ctx := context.Background()
	_, err = backend.Connect(ctx, schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{Password: "a", PrivateKey: "b"}})
	if schema.BackendErrorCodeOf(err) != schema.BackendErrorInvalid {
		t.Fatalf("expected invalid request for conflicting credentials, got %v", err)
	}
	_, err = backend.Connect(ctx, schema.BackendConnectRequest{ServerID: "ftp", Credentials: schema.Credentials{Password: "secret"}})
	if schema.BackendErrorCodeOf(err) != schema.BackendErrorInvalid {
		t.Fatalf("expected invalid request for ftp, got %v", err)
	}
}

func newClientKey(t *testing.T) (ed25519.PrivateKey, ssh.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("client key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("client signer: %v", err)
	}
	return priv, signer.PublicKey()
}

func TestEncryptedPrivateKey(t *testing.T) {
	priv, pub := newClientKey(t)
	ts := newTestSSHServer(t, pub)
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte("hunter2"))
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := string(pem.EncodeToMemory(block))
	backend := newTestBackend(t, ts, Config{})
	ctx := context.Background()

	_, err = backend.Connect(ctx, schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{PrivateKey: keyPEM}})
	if schema.BackendErrorCodeOf(err) != schema.BackendErrorAuth {
		t.Fatalf("expected auth failure without passphrase, got %v", err)
	}
	resp, err := backend.Connect(ctx, schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{PrivateKey: keyPEM, Passphrase: "hunter2"}})
	if err != nil {
		t.Fatalf("connect with passphrase: %v", err)
	}
	if err := backend.Disconnect(ctx, resp.SessionID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}

func TestPrivateKeyFromPath(t *testing.T) {
	priv, pub := newClientKey(t)
	ts := newTestSSHServer(t, pub)
	block, err := ssh.MarshalPrivateKey(priv, "test")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	backend := newTestBackend(t, ts, Config{})
	if _, err := backend.Connect(context.Background(), schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{PrivateKey: path}}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if backend.Sessions() != 1 {
		t.Fatalf("expected 1 session, got %d", backend.Sessions())
	}
}

func TestAgentFallback(t *testing.T) {
	priv, pub := newClientKey(t)
	ts := newTestSSHServer(t, pub)

	keyring := agent.NewKeyring()
	if err := keyring.Add(agent.AddedKey{PrivateKey: priv}); err != nil {
		t.Fatalf("add agent key: %v", err)
	}
	socket := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("agent listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				_ = agent.ServeAgent(keyring, conn)
				_ = conn.Close()
			}()
		}
	}()

	backend := newTestBackend(t, ts, Config{AgentSocket: socket})
	if _, err := backend.Connect(context.Background(), schema.BackendConnectRequest{ServerID: "s1"}); err != nil {
		t.Fatalf("connect via agent: %v", err)
	}
}

func TestNoCredentialsWithoutAgent(t *testing.T) {
	ts := newTestSSHServer(t, nil)
	backend := newTestBackend(t, ts, Config{})
	_, err := backend.Connect(context.Background(), schema.BackendConnectRequest{ServerID: "s1"})
	if schema.BackendErrorCodeOf(err) != schema.BackendErrorAuth {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestKnownHostsVerification(t *testing.T) {
	ts := newTestSSHServer(t, nil)
	dir := t.TempDir()
	ctx := context.Background()
	req := schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{Password: "secret"}}

	trusted := filepath.Join(dir, "known_hosts")
	if err := os.WriteFile(trusted, []byte(knownhosts.Line([]string{ts.addr}, ts.hostKey.PublicKey())+"\n"), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	backend := newTestBackend(t, ts, Config{KnownHostsPath: trusted})
	if _, err := backend.Connect(ctx, req); err != nil {
		t.Fatalf("connect with trusted key: %v", err)
	}

	_, otherPub := newClientKey(t)
	mismatched := filepath.Join(dir, "known_hosts_other")
	if err := os.WriteFile(mismatched, []byte(knownhosts.Line([]string{ts.addr}, otherPub)+"\n"), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	backend = newTestBackend(t, ts, Config{KnownHostsPath: mismatched})
	_, err := backend.Connect(ctx, req)
	if schema.BackendErrorCodeOf(err) != schema.BackendErrorConnection {
		t.Fatalf("expected connection error on mismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "mismatch") {
		t.Fatalf("unexpected message %q", err.Error())
	}

	empty := filepath.Join(dir, "known_hosts_empty")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	backend = newTestBackend(t, ts, Config{KnownHostsPath: empty})
	_, err = backend.Connect(ctx, req)
	var backendErr *schema.BackendError
	if !errors.As(err, &backendErr) || !strings.Contains(backendErr.Message, "not in known_hosts") {
		t.Fatalf("expected unknown host error, got %v", err)
	}
}

func TestResizeSendsWindowChange(t *testing.T) {
	ts := newTestSSHServer(t, nil)
	backend := newTestBackend(t, ts, Config{})
	ctx := context.Background()
	resp, err := backend.Connect(ctx, schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{Password: "secret"}})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := backend.Resize(ctx, schema.ResizeRequest{SessionID: resp.SessionID, Cols: 120, Rows: 40}); err != nil {
		t.Fatalf("resize: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case win := <-ts.windows:
			if win.Width == 120 && win.Height == 40 {
				return
			}
		case <-deadline:
			t.Fatalf("window change not observed")
		}
	}
}

func TestDisconnectClosesRemoteSession(t *testing.T) {
	ts := newTestSSHServer(t, nil)
	backend := newTestBackend(t, ts, Config{})
	ctx := context.Background()
	resp, err := backend.Connect(ctx, schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{Password: "secret"}})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := backend.Disconnect(ctx, resp.SessionID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	select {
	case <-ts.closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("remote session still open")
	}
	if backend.Sessions() != 0 {
		t.Fatalf("expected no sessions")
	}
	if err := backend.Disconnect(ctx, resp.SessionID); err != nil {
		t.Fatalf("expected repeated disconnect to succeed, got %v", err)
	}
	if err := backend.Resize(ctx, schema.ResizeRequest{SessionID: resp.SessionID, Cols: 80, Rows: 24}); schema.BackendErrorCodeOf(err) != schema.BackendErrorNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func waitForNoSessions(t *testing.T, backend *Backend) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for backend.Sessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session was not removed after EOF")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEndedSessionOutputReplayedWithinRetention(t *testing.T) {
	ts := newTestSSHServer(t, nil)
	backend := newTestBackend(t, ts, Config{})
	ctx := context.Background()

	resp, err := backend.Connect(ctx, schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{Password: "secret"}})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := backend.SendInput(ctx, resp.SessionID, []byte("exit\r")); err != nil {
		t.Fatalf("send exit: %v", err)
	}
	waitForNoSessions(t, backend)

	sub := backend.Subscribe(resp.SessionID)
	defer sub.Close()
	out, eofs := readToEOF(t, sub)
	if !strings.Contains(out, "logout") || eofs != 1 {
		t.Fatalf("expected replayed output and one EOF, got %q (%d EOF)", out, eofs)
	}
}

func TestEndedSessionOutputReleasedAfterRetention(t *testing.T) {
	ts := newTestSSHServer(t, nil)
	backend := newTestBackend(t, ts, Config{EndedRetention: 50 * time.Millisecond})
	ctx := context.Background()

	resp, err := backend.Connect(ctx, schema.BackendConnectRequest{ServerID: "s1", Credentials: schema.Credentials{Password: "secret"}})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := backend.SendInput(ctx, resp.SessionID, []byte("exit\r")); err != nil {
		t.Fatalf("send exit: %v", err)
	}
	waitForNoSessions(t, backend)
	time.Sleep(300 * time.Millisecond)

	sub := backend.Subscribe(resp.SessionID)
	defer sub.Close()
	quiet, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if event, err := sub.Next(quiet); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no retained output, got %+v (%v)", event, err)
	}
}
