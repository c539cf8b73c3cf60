package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateHostID returns the machine's stable host id stored at path,
// generating and persisting a new UUID on first use.
func LoadOrCreateHostID(path string) (string, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr != nil {
			return "", fmt.Errorf("host id file %s: %w", path, perr)
		}
		return id, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read host id: %w", err)
	}

	id := uuid.NewString()
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create host id dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write host id: %w", err)
	}
	return id, nil
}

// MachineInfo describes the local machine for the registry's config column.
func MachineInfo(extra string) string {
	hostname, _ := os.Hostname()
	info := fmt.Sprintf("hostname=%s os=%s arch=%s cpus=%d go=%s",
		hostname, runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())
	if extra = strings.TrimSpace(extra); extra != "" {
		info += " " + extra
	}
	return info
}
