package main

import (
	"os/exec"

	"github.com/wdfk-prog/iso14229/pkg/uds/services"
)

// execShellCommand is the demonstration services.CommandExecutor: it
// runs commandLine through the host shell and captures combined
// stdout/stderr into out, the Go equivalent of vcon_write's capture
// device backing the original remote-console routine.
func execShellCommand(commandLine string, out *services.CaptureBuffer) error {
	cmd := exec.Command("sh", "-c", commandLine)
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}
