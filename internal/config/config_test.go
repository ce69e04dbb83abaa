package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDaemonAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overseerd.yaml")
	if err := os.WriteFile(path, []byte("broker_auth_token: secret\n"), 0644); err != nil {
		t.Fatal(err)
	}
	d, err := LoadDaemon(path)
	if err != nil {
		t.Fatalf("LoadDaemon: %v", err)
	}
	if d.DataDir != "./overseer-data" {
		t.Errorf("DataDir = %q, want default", d.DataDir)
	}
	if d.BrokerPort != 4222 {
		t.Errorf("BrokerPort = %d, want default 4222", d.BrokerPort)
	}
	if d.HTTPAddr != ":7465" {
		t.Errorf("HTTPAddr = %q, want default :7465", d.HTTPAddr)
	}
	if d.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q, want default :9090", d.MetricsAddr)
	}
	if d.BrokerAuthToken != "secret" {
		t.Errorf("BrokerAuthToken = %q, want secret (explicit values must survive defaulting)", d.BrokerAuthToken)
	}
}

func TestLoadDaemonPreservesExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overseerd.yaml")
	body := "data_dir: /var/overseer\nbroker_port: 5000\nhttp_addr: :8080\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	d, err := LoadDaemon(path)
	if err != nil {
		t.Fatalf("LoadDaemon: %v", err)
	}
	if d.DataDir != "/var/overseer" || d.BrokerPort != 5000 || d.HTTPAddr != ":8080" {
		t.Errorf("explicit values not preserved: %+v", d)
	}
}

func TestLoadDaemonMissingFile(t *testing.T) {
	if _, err := LoadDaemon(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error loading a missing config file")
	}
}

func TestLoadGatesParsesDeclarations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gates.yaml")
	body := `
gates:
  - name: lint
    command: ["golangci-lint", "run"]
    scope: repo
    max_retries: 3
    timeout_secs: 60
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadGates(path)
	if err != nil {
		t.Fatalf("LoadGates: %v", err)
	}
	if len(f.Gates) != 1 {
		t.Fatalf("len(Gates) = %d, want 1", len(f.Gates))
	}
	g := f.Gates[0]
	if g.Name != "lint" || g.Scope != "repo" || g.MaxRetries != 3 || g.TimeoutSecs != 60 {
		t.Errorf("unexpected gate decl: %+v", g)
	}
}

func TestGateRegistrySetAndGatesReturnsCopy(t *testing.T) {
	reg := NewGateRegistry()
	reg.Set([]GateDecl{{Name: "a"}, {Name: "b"}})

	got := reg.Gates()
	if len(got) != 2 {
		t.Fatalf("len(Gates()) = %d, want 2", len(got))
	}

	got[0].Name = "mutated"
	again := reg.Gates()
	if again[0].Name != "a" {
		t.Error("Gates() must return a copy; mutating the result leaked into the registry")
	}
}
