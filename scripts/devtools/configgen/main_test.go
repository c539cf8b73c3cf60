package main

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestGenerateAppliesOverridesAndSecrets(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "server.yaml"), "logger:\n  level: info\n  format: json\nauth:\n  jwtIssuer: base\n")
	write(t, filepath.Join(dir, "executor.yaml"), "server:\n  baseURL: http://x\n")
	write(t, filepath.Join(dir, "profile.yaml"), `outputDir: out
secrets:
  jwtSecret: j
  executorSecret: e
  opsSecret: o
binaries:
  srv:
    kind: server
    base: server.yaml
    output: gradeline.yaml
    overrides:
      logger:
        level: debug
  exec:
    kind: executor
    base: executor.yaml
`)

	if err := generate(filepath.Join(dir, "profile.yaml"), ""); err != nil {
		t.Fatalf("generate: %v", err)
	}

	var server struct {
		Logger struct{ Level, Format string }
		Auth   struct {
			JWTSecret      string `yaml:"jwtSecret"`
			JWTIssuer      string `yaml:"jwtIssuer"`
			ExecutorSecret string `yaml:"executorSecret"`
			OpsSecret      string `yaml:"opsSecret"`
		}
	}
	readYAML(t, filepath.Join(dir, "out", "gradeline.yaml"), &server)
	if server.Logger.Level != "debug" || server.Logger.Format != "json" {
		t.Fatalf("logger = %+v", server.Logger)
	}
	if server.Auth.JWTSecret != "j" || server.Auth.JWTIssuer != "base" || server.Auth.ExecutorSecret != "e" || server.Auth.OpsSecret != "o" {
		t.Fatalf("auth = %+v", server.Auth)
	}

	var executor struct {
		Server struct {
			BaseURL string `yaml:"baseURL"`
			Secret  string `yaml:"secret"`
		}
	}
	readYAML(t, filepath.Join(dir, "out", "executor.yaml"), &executor)
	if executor.Server.BaseURL != "http://x" || executor.Server.Secret != "e" {
		t.Fatalf("executor = %+v", executor.Server)
	}
}

func TestGenerateRejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.yaml"), "x: 1\n")
	write(t, filepath.Join(dir, "profile.yaml"), "outputDir: out\nbinaries:\n  a:\n    kind: gateway\n    base: a.yaml\n")
	if err := generate(filepath.Join(dir, "profile.yaml"), ""); err == nil {
		t.Fatal("expected unknown kind error")
	}
}

func readYAML(t *testing.T, path string, out interface{}) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		t.Fatal(err)
	}
}
