//go:build linux

package cdp

import (
	"os"
	"os/exec"
	"syscall"
)

func configureCommand(cmd *exec.Cmd) {
	if _, isLambda := os.LookupEnv("LAMBDA_TASK_ROOT"); isLambda {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = new(syscall.SysProcAttr)
	}
	// Take the browser down with us if we die first.
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
}
