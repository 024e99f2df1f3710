//go:build !unix

package probe

import "os/exec"

func killTree(*exec.Cmd) {}
