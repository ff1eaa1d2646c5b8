package permissions

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestResolve_Builtins(t *testing.T) {
	var r Resolver

	stdio, err := r.Resolve("stdio")
	if err != nil {
		t.Fatalf("Resolve(stdio): %v", err)
	}
	if stdio.Network != nil {
		t.Error("stdio profile must have no network policy")
	}
	if len(stdio.Read) != 1 || stdio.Read[0] != ControlSocket {
		t.Errorf("stdio read: got %v", stdio.Read)
	}
	if len(stdio.Write) != 1 || stdio.Write[0] != ControlSocket {
		t.Errorf("stdio write: got %v", stdio.Write)
	}

	network, err := r.Resolve("network")
	if err != nil {
		t.Fatalf("Resolve(network): %v", err)
	}
	if network.Network == nil {
		t.Fatal("network profile must carry a network policy")
	}
	if !network.Network.Outbound.InsecureAllowAll {
		t.Error("network profile should allow all outbound traffic")
	}
	if len(network.Read) != 1 || network.Read[0] != ControlSocket ||
		len(network.Write) != 1 || network.Write[0] != ControlSocket {
		t.Errorf("network profile paths differ from stdio: read=%v write=%v", network.Read, network.Write)
	}
}

func TestResolve_BuiltinsAreIndependentCopies(t *testing.T) {
	var r Resolver
	a, _ := r.Resolve("network")
	a.Read[0] = "/tmp"
	a.Network.Outbound.InsecureAllowAll = false

	b, _ := r.Resolve("network")
	if b.Read[0] != ControlSocket || !b.Network.Outbound.InsecureAllowAll {
		t.Error("mutating a resolved built-in leaked into the next resolution")
	}
}

func TestResolve_Files(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name        string
		path        string
		wantErr     error
		wantRead    int
		wantWrite   int
		wantNetwork bool
	}{
		{
			name: "yaml",
			path: write("profile.yaml", `
read:
  - /etc/ssl/certs
  - ./data:/data
write:
  - /tmp
network:
  outbound:
    allow_host: [api.example.com]
    allow_port: [443]
`),
			wantRead: 2, wantWrite: 1, wantNetwork: true,
		},
		{
			name:     "json",
			path:     write("profile.json", `{"read": ["/srv"], "write": []}`),
			wantRead: 1,
		},
		{
			name:     "null network",
			path:     write("null.yaml", "read: [/srv]\nnetwork: null\n"),
			wantRead: 1,
		},
		{
			name:    "missing file",
			path:    filepath.Join(dir, "absent.yaml"),
			wantErr: ErrProfileNotFound,
		},
		{
			name:    "unparsable",
			path:    write("broken.yaml", "read: [unterminated\n"),
			wantErr: ErrProfileMalformed,
		},
		{
			name:    "unknown key",
			path:    write("extra.yaml", "read: []\nexecute: [/bin/sh]\n"),
			wantErr: ErrProfileMalformed,
		},
		{
			name:    "wrong type",
			path:    write("wrong.yaml", "read: /etc\n"),
			wantErr: ErrProfileMalformed,
		},
		{
			name:    "port out of range",
			path:    write("port.yaml", "network:\n  outbound:\n    allow_port: [70000]\n"),
			wantErr: ErrProfileMalformed,
		},
		{
			name:    "empty document",
			path:    write("empty.yaml", ""),
			wantErr: ErrProfileMalformed,
		},
	}

	var r Resolver
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := r.Resolve(tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if len(p.Read) != tt.wantRead {
				t.Errorf("read: got %v, want %d entries", p.Read, tt.wantRead)
			}
			if len(p.Write) != tt.wantWrite {
				t.Errorf("write: got %v, want %d entries", p.Write, tt.wantWrite)
			}
			if (p.Network != nil) != tt.wantNetwork {
				t.Errorf("network present: got %v, want %v", p.Network != nil, tt.wantNetwork)
			}
		})
	}
}

func TestResolve_UnreadableFileIsNotFound(t *testing.T) {
	r := Resolver{ReadFile: func(string) ([]byte, error) { return nil, fs.ErrPermission }}
	_, err := r.Resolve("/etc/hako/profile.yaml")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestResolve_EmptySelector(t *testing.T) {
	var r Resolver
	if _, err := r.Resolve(""); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}
