package sshbackend

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"pkt.systems/sessiondeck/schema"
)

// authMethod picks exactly one method: password, then private key, then the agent.
// The returned closer releases the agent connection and may be nil.
func (b *Backend) authMethod(creds schema.Credentials) (ssh.AuthMethod, string, io.Closer, error) {
	switch {
	case creds.Password != "":
		return ssh.Password(creds.Password), "password", nil, nil
	case creds.PrivateKey != "":
		signer, err := parseSigner(creds.PrivateKey, creds.Passphrase)
		if err != nil {
			return nil, "", nil, schema.NewBackendError(schema.BackendErrorAuth, "Authentication failed: "+err.Error())
		}
		return ssh.PublicKeys(signer), "private_key", nil, nil
	}
	if b.cfg.AgentSocket == "" {
		return nil, "", nil, schema.NewBackendError(schema.BackendErrorAuth, "Authentication failed: no credentials and no SSH agent available")
	}
	conn, err := net.Dial("unix", b.cfg.AgentSocket)
	if err != nil {
		return nil, "", nil, schema.NewBackendError(schema.BackendErrorAuth, "Authentication failed: connect to agent: "+err.Error())
	}
	client := agent.NewClient(conn)
	keys, err := client.List()
	if err != nil {
		_ = conn.Close()
		return nil, "", nil, schema.NewBackendError(schema.BackendErrorAuth, "Authentication failed: list agent identities: "+err.Error())
	}
	if len(keys) == 0 {
		_ = conn.Close()
		return nil, "", nil, schema.NewBackendError(schema.BackendErrorAuth, "Authentication failed: no identity found in agent")
	}
	return ssh.PublicKeysCallback(client.Signers), "agent", conn, nil
}

// parseSigner accepts either PEM key material or a path to a key file.
func parseSigner(key, passphrase string) (ssh.Signer, error) {
	material := []byte(key)
	if !strings.Contains(key, "PRIVATE KEY") {
		data, err := os.ReadFile(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		material = data
	}
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(material, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(material)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errors.New("private key is encrypted and no passphrase was given")
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

func (b *Backend) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if b.cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if b.cfg.KnownHostsPath == "" {
		return nil, errors.New("known_hosts path is not configured")
	}
	callback, err := knownhosts.New(b.cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return callback, nil
}

// classifyHandshake maps a handshake failure onto a backend error code.
func classifyHandshake(err error) *schema.BackendError {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return &schema.BackendError{Code: schema.BackendErrorConnection, Message: "Host key verification failed: host is not in known_hosts", Err: err}
		}
		return &schema.BackendError{Code: schema.BackendErrorConnection, Message: "Host key verification failed: host key mismatch", Err: err}
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return &schema.BackendError{Code: schema.BackendErrorAuth, Message: "Authentication failed", Err: err}
	}
	return &schema.BackendError{Code: schema.BackendErrorConnection, Message: "SSH handshake failed: " + err.Error(), Err: err}
}
