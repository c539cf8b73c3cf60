package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateHostIDIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "host-id")
	first, err := LoadOrCreateHostID(path)
	if err != nil {
		t.Fatalf("LoadOrCreateHostID: %v", err)
	}
	second, err := LoadOrCreateHostID(path)
	if err != nil {
		t.Fatalf("LoadOrCreateHostID: %v", err)
	}
	if first == "" || first != second {
		t.Fatalf("ids differ: %q vs %q", first, second)
	}
}

func TestLoadOrCreateHostIDRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host-id")
	if err := os.WriteFile(path, []byte("not-a-uuid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateHostID(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMachineInfo(t *testing.T) {
	info := MachineInfo("lab=7")
	if !strings.Contains(info, "cpus=") || !strings.HasSuffix(info, " lab=7") {
		t.Fatalf("info = %q", info)
	}
}
