//go:build unix

package sandbox

import (
	"os/exec"
	"syscall"
)

// setProcGroup places the child in its own process group so a timeout
// kill reaches grandchildren too, not only the direct interpreter.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcGroup SIGKILLs the whole group. Falls back to killing the
// single process if the group signal fails.
func killProcGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
