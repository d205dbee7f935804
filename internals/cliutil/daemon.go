package cliutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/Oudwins/clipq/internals/conf"
	"github.com/Oudwins/clipq/internals/timeouts"
	"github.com/Oudwins/clipq/sdk"
)

var execCommand = exec.Command

// EnsureDaemonRunning starts a daemon if none answers and replaces one that
// runs a different build.
func EnsureDaemonRunning(client *sdk.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Probe)
	defer cancel()

	if version, err := client.Version(ctx); err == nil {
		localVersion := conf.GetConfig().Version
		if strings.TrimSpace(version) == strings.TrimSpace(localVersion) {
			return nil
		}
		return replaceDaemon(client, version)
	}

	if err := StartDaemon(); err != nil {
		return err
	}
	return waitForDaemon(client)
}

// StartDaemon launches `clipq serve` detached from this process.
func StartDaemon() error {
	path, err := findServeBinary()
	if err != nil {
		return err
	}

	cmd := execCommand(path, "serve")
	cmd.Stdout = nil
	cmd.Stderr = nil
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start clipq daemon: %w", err)
	}
	return cmd.Process.Release()
}

func waitForDaemon(client *sdk.Client) error {
	if sdk.WaitForStart(client.BaseURL(), nil) {
		return nil
	}
	return errors.New("failed to reach clipq daemon")
}

func replaceDaemon(client *sdk.Client, remoteVersion string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
	defer cancel()

	remoteVersion = strings.TrimSpace(remoteVersion)
	if err := client.Shutdown(ctx); err != nil {
		if errors.Is(err, sdk.ErrShutdownUnsupported) {
			return fmt.Errorf("clipq daemon %s is running; please stop it and retry", remoteVersion)
		}
		return fmt.Errorf("failed to shutdown clipq daemon %s: %w", remoteVersion, err)
	}
	if !sdk.WaitForStop(client.BaseURL()) {
		return fmt.Errorf("clipq daemon %s did not stop", remoteVersion)
	}

	if err := StartDaemon(); err != nil {
		return err
	}
	return waitForDaemon(client)
}

func findServeBinary() (string, error) {
	executable, err := os.Executable()
	if err == nil && executable != "" {
		return executable, nil
	}

	path, err := exec.LookPath("clipq")
	if err != nil {
		return "", fmt.Errorf("clipq not found in PATH")
	}
	return path, nil
}
