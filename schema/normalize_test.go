package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeServer(t *testing.T) {
	cases := []struct {
		name   string
		server Server
		valid  bool
	}{
		{"simple", Server{Name: "prod-web", Host: "10.0.0.1", Username: "root"}, true},
		{"explicit-port", Server{Name: "db", Host: "db.internal", Username: "ops", Port: 2222}, true},
		{"sftp", Server{Name: "files", Host: "files", Username: "u", Protocol: "SFTP"}, true},
		{"missing-name", Server{Host: "h", Username: "u"}, false},
		{"blank-name", Server{Name: "   ", Host: "h", Username: "u"}, false},
		{"long-name", Server{Name: strings.Repeat("x", MaxServerNameLen+1), Host: "h", Username: "u"}, false},
		{"missing-host", Server{Name: "n", Username: "u"}, false},
		{"host-with-space", Server{Name: "n", Host: "a b", Username: "u"}, false},
		{"missing-user", Server{Name: "n", Host: "h"}, false},
		{"port-too-high", Server{Name: "n", Host: "h", Username: "u", Port: 70000}, false},
		{"negative-port", Server{Name: "n", Host: "h", Username: "u", Port: -1}, false},
		{"bad-protocol", Server{Name: "n", Host: "h", Username: "u", Protocol: "telnet"}, false},
	}

	for _, tc := range cases {
		_, err := NormalizeServer(tc.server)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid {
			if err == nil {
				t.Fatalf("case %q expected error, got nil", tc.name)
			}
			if !errors.Is(err, ErrInvalidServer) {
				t.Fatalf("case %q expected ErrInvalidServer, got %v", tc.name, err)
			}
		}
	}
}

func TestNormalizeServerDefaults(t *testing.T) {
	server, err := NormalizeServer(Server{Name: " prod ", Host: " h ", Username: " u ", Tags: []string{" a ", "", "b"}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if server.Name != "prod" || server.Host != "h" || server.Username != "u" {
		t.Fatalf("expected trimmed fields, got %+v", server)
	}
	if server.Port != DefaultSSHPort {
		t.Fatalf("expected default port %d, got %d", DefaultSSHPort, server.Port)
	}
	if server.Protocol != ProtocolSSH {
		t.Fatalf("expected ssh protocol, got %q", server.Protocol)
	}
	if len(server.Tags) != 2 || server.Tags[0] != "a" || server.Tags[1] != "b" {
		t.Fatalf("expected cleaned tags, got %v", server.Tags)
	}
}

func TestValidateCredentials(t *testing.T) {
	cases := []struct {
		name  string
		creds Credentials
		valid bool
	}{
		{"none", Credentials{}, true},
		{"password", Credentials{Password: "pw"}, true},
		{"key", Credentials{PrivateKey: "key"}, true},
		{"key-passphrase", Credentials{PrivateKey: "key", Passphrase: "pp"}, true},
		{"password-and-key", Credentials{Password: "pw", PrivateKey: "key"}, false},
		{"passphrase-only", Credentials{Passphrase: "pp"}, false},
		{"password-passphrase", Credentials{Password: "pw", Passphrase: "pp"}, false},
	}
	for _, tc := range cases {
		err := ValidateCredentials(tc.creds)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid && !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("case %q expected ErrInvalidCredentials, got %v", tc.name, err)
		}
	}
}

func TestBackendErrorMessageIsVerbatim(t *testing.T) {
	err := error(NewBackendError(BackendErrorAuth, "Authentication failed: permission denied"))
	if err.Error() != "Authentication failed: permission denied" {
		t.Fatalf("expected verbatim message, got %q", err.Error())
	}
	if code := BackendErrorCodeOf(err); code != BackendErrorAuth {
		t.Fatalf("expected auth code, got %q", code)
	}
	if code := BackendErrorCodeOf(errors.New("other")); code != BackendErrorUnknown {
		t.Fatalf("expected unknown code, got %q", code)
	}
}
