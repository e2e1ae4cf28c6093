package agent

import (
	"context"
	"os/exec"
	"runtime"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

// handleCommand executes a server-issued command.
func (a *Agent) handleCommand(kind string) {
	a.log.Info().Str("kind", kind).Msg("command received")

	switch kind {
	case protocol.CommandCheck:
		// Fresh full report, identity included.
		a.sendTelemetry(true)

	case protocol.CommandRestart:
		// Push one last report so the server sees us right before the
		// reboot, then go down.
		a.sendTelemetry(false)
		if err := a.reboot(); err != nil {
			a.log.Error().Err(err).Msg("reboot failed")
		}

	default:
		a.log.Warn().Str("kind", kind).Msg("unknown command kind")
	}
}

// reboot restarts the machine. Requires the agent to run with
// sufficient privileges.
func (a *Agent) reboot() error {
	ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "shutdown", "/r", "/t", "5")
	case "darwin":
		cmd = exec.CommandContext(ctx, "shutdown", "-r", "now")
	default:
		if _, err := exec.LookPath("systemctl"); err == nil {
			cmd = exec.CommandContext(ctx, "systemctl", "reboot")
		} else {
			cmd = exec.CommandContext(ctx, "reboot")
		}
	}

	a.log.Info().Str("cmd", cmd.String()).Msg("rebooting")
	return cmd.Run()
}
