package schema

import (
	"fmt"
	"strings"
)

// MaxServerNameLen bounds server display names.
const MaxServerNameLen = 255

// NormalizeServer trims fields, applies defaults and validates a record before it
// is stored or connected to.
func NormalizeServer(server Server) (Server, error) {
	server.ID = ServerID(strings.TrimSpace(string(server.ID)))
	server.Name = strings.TrimSpace(server.Name)
	server.Host = strings.TrimSpace(server.Host)
	server.Username = strings.TrimSpace(server.Username)
	if server.Name == "" {
		return Server{}, fmt.Errorf("%w: name is required", ErrInvalidServer)
	}
	if len(server.Name) > MaxServerNameLen {
		return Server{}, fmt.Errorf("%w: name is longer than %d characters", ErrInvalidServer, MaxServerNameLen)
	}
	if server.Host == "" {
		return Server{}, fmt.Errorf("%w: host is required", ErrInvalidServer)
	}
	if strings.ContainsAny(server.Host, " \t/") {
		return Server{}, fmt.Errorf("%w: malformed host %q", ErrInvalidServer, server.Host)
	}
	if server.Username == "" {
		return Server{}, fmt.Errorf("%w: username is required", ErrInvalidServer)
	}
	if server.Port == 0 {
		server.Port = DefaultSSHPort
	}
	if server.Port < 1 || server.Port > 65535 {
		return Server{}, fmt.Errorf("%w: port %d is out of range", ErrInvalidServer, server.Port)
	}
	protocol, err := NormalizeProtocol(string(server.Protocol))
	if err != nil {
		return Server{}, err
	}
	server.Protocol = protocol
	tags := server.Tags[:0:0]
	for _, tag := range server.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	server.Tags = tags
	return server, nil
}

// NormalizeProtocol lower-cases and validates a protocol name. Empty means ssh.
func NormalizeProtocol(value string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "ssh":
		return ProtocolSSH, nil
	case "sftp":
		return ProtocolSFTP, nil
	case "ftp":
		return ProtocolFTP, nil
	default:
		return "", fmt.Errorf("%w: unsupported protocol %q", ErrInvalidServer, value)
	}
}

// ValidateCredentials rejects credential combinations that may not be sent in one call.
func ValidateCredentials(creds Credentials) error {
	if creds.Password != "" && creds.PrivateKey != "" {
		return fmt.Errorf("%w: password and private key are mutually exclusive", ErrInvalidCredentials)
	}
	if creds.Passphrase != "" && creds.PrivateKey == "" {
		return fmt.Errorf("%w: passphrase requires a private key", ErrInvalidCredentials)
	}
	return nil
}
