//go:build !linux

package cdp

import "os/exec"

func configureCommand(cmd *exec.Cmd) {}
