//go:build windows

package cliutil

import "os/exec"

func detach(cmd *exec.Cmd) {}
