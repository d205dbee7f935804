package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Oudwins/clipq/internals/cliutil"
	"github.com/Oudwins/clipq/sdk"
)

var (
	ErrUsage      = errors.New("invalid usage")
	ErrTaskFailed = errors.New("task failed")
)

// clientFactory is swapped in tests.
var clientFactory = func() *sdk.Client { return sdk.NewClient() }

// ensureDaemon is swapped in tests.
var ensureDaemon = cliutil.EnsureDaemonRunning

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clipq",
		Short:         "Queue media downloads on a local daemon and follow their progress",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newStartCmd(),
		newWatchCmd(),
		newStatusCmd(),
		newDownloadCmd(),
		newFetchCmd(),
		newVersionCmd(),
		newShutdownCmd(),
	)
	return root
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, ErrUsage):
		return 2
	case errors.Is(err, ErrTaskFailed):
		return 3
	default:
		return 1
	}
}
