//go:build unix

package probe

import (
	"os/exec"
	"syscall"
)

// killTree runs cmd in its own process group and makes cancellation kill
// the whole group, so browsers forked by lighthouse die with it.
func killTree(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
