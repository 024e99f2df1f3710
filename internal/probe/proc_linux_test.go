//go:build linux

package probe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/task/retry"
	logx "dashpulse/pkg/logx"
)

// running reports whether pid exists and is not a zombie.
func running(pid int) bool {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// pid (comm) S ...
	i := strings.LastIndexByte(string(b), ')')
	return i < 0 || i+2 >= len(b) || b[i+2] != 'Z'
}

func TestLighthouseTimeoutKillsForkedChildren(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")
	bin := writeScript(t, dir, "sleep 30 &\necho $! > "+pidFile+"\nwait\n")
	lh := NewLighthouse(LighthouseConfig{Binary: bin, Timeout: 300 * time.Millisecond, Retry: retry.Fixed(1, 0)}, logx.Nop())

	res := lh.Run(context.Background(), domain.Target{URL: "https://tree.example"})
	if res.Outcome.Reason != domain.ReasonTimeout {
		t.Fatalf("result = %+v, want timeout", res)
	}

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read child pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("child pid %q: %v", raw, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for running(pid) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if running(pid) {
		t.Fatalf("child %d still running after timeout", pid)
	}
}
