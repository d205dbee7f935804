package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	z "github.com/Oudwins/zog"
	"github.com/spf13/cobra"

	"github.com/Oudwins/clipq/clipd/server"
	"github.com/Oudwins/clipq/internals/cliutil"
	"github.com/Oudwins/clipq/internals/conf"
	"github.com/Oudwins/clipq/internals/schemas"
	"github.com/Oudwins/clipq/internals/timeouts"
	"github.com/Oudwins/clipq/sdk"
)

type StartArgs struct {
	URL         string `zog:"url"`
	Format      string `zog:"format"`
	Filename    string `zog:"filename"`
	CookiesFile string `zog:"cookies_file"`
}

type FetchArgs struct {
	ID   string `zog:"id"`
	Out  string `zog:"out"`
	Open bool   `zog:"open"`
}

var startArgsSchema = z.Struct(z.Shape{
	"URL":         z.String().Required(z.Message("url is required")).Trim().URL(z.Message("url must be a valid URL")),
	"Format":      z.String().Optional().Trim(),
	"Filename":    z.String().Optional().Trim(),
	"CookiesFile": z.String().Optional().Trim(),
})

var fetchArgsSchema = z.Struct(z.Shape{
	"ID":   z.String().Required().Trim(),
	"Out":  z.String().Default(".").Trim(),
	"Open": z.Bool().Optional(),
})

func validateArgs(schema *z.StructSchema, payload any) error {
	if issues := schema.Validate(payload); len(issues) > 0 {
		return fmt.Errorf("%w:\n%s", ErrUsage, z.Issues.Prettify(issues))
	}
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := server.New()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errs := make(chan error, 1)
			go func() { errs <- srv.Start() }()

			select {
			case err := <-errs:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Drain+timeouts.SecondShort)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errs
		},
	}
}

func newStartCmd() *cobra.Command {
	parsed := StartArgs{}
	var followTask bool
	cmd := &cobra.Command{
		Use:   "start <url>",
		Short: "Queue a download and print its task id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed.URL = args[0]
			client, taskID, err := startTask(cmd, parsed)
			if err != nil {
				return err
			}
			if !followTask {
				return nil
			}
			return follow(cmd, client, taskID)
		},
	}
	addStartFlags(cmd, &parsed)
	cmd.Flags().BoolVarP(&followTask, "follow", "F", false, "stream progress until the task finishes")
	return cmd
}

func addStartFlags(cmd *cobra.Command, parsed *StartArgs) {
	cmd.Flags().StringVarP(&parsed.Format, "format", "f", "", "format id, or mp3 for audio only")
	cmd.Flags().StringVarP(&parsed.Filename, "filename", "n", "", "file name for the artifact")
	cmd.Flags().StringVar(&parsed.CookiesFile, "cookies", "", "path to a Netscape cookies file")
}

func startTask(cmd *cobra.Command, parsed StartArgs) (*sdk.Client, string, error) {
	if err := validateArgs(startArgsSchema, &parsed); err != nil {
		return nil, "", err
	}
	request := schemas.TaskCreateRequest{URL: parsed.URL, FormatID: parsed.Format, Filename: parsed.Filename}
	if parsed.CookiesFile != "" {
		data, err := os.ReadFile(parsed.CookiesFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read cookies file: %w", err)
		}
		request.Cookies = string(data)
	}

	client := clientFactory()
	if err := ensureDaemon(client); err != nil {
		return nil, "", err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
	defer cancel()
	response, err := client.StartTask(ctx, request)
	if err != nil {
		return nil, "", err
	}
	cliutil.PrintTaskStarted(cmd.OutOrStdout(), response)
	return client, response.TaskID, nil
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Stream a task's log until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFactory()
			if err := ensureDaemon(client); err != nil {
				return err
			}
			return follow(cmd, client, strings.TrimSpace(args[0]))
		},
	}
}

func follow(cmd *cobra.Command, client *sdk.Client, taskID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	done, err := client.Stream(ctx, taskID, func(line string) error {
		_, err := fmt.Fprintln(out, cliutil.LogLine(line))
		return err
	})
	if err != nil {
		return err
	}
	cliutil.PrintDone(out, done)
	switch done.Outcome {
	case schemas.OutcomeComplete:
		return nil
	case schemas.OutcomeNotFound:
		return fmt.Errorf("task %s: %w", taskID, schemas.ErrNotFound)
	default:
		return fmt.Errorf("task %s: %w", taskID, ErrTaskFailed)
	}
}

func newStatusCmd() *cobra.Command {
	var withLog bool
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show a task's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFactory()
			if err := ensureDaemon(client); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondDefault)
			defer cancel()
			task, err := client.Task(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			cliutil.PrintTask(cmd.OutOrStdout(), task, withLog)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&withLog, "log", "l", false, "print the full task log")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	parsed := FetchArgs{}
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download a finished task's file; the daemon forgets the task afterwards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed.ID = args[0]
			if err := validateArgs(fetchArgsSchema, &parsed); err != nil {
				return err
			}
			client := clientFactory()
			if err := ensureDaemon(client); err != nil {
				return err
			}
			return save(cmd, client, parsed)
		},
	}
	cmd.Flags().StringVarP(&parsed.Out, "out", "o", ".", "directory to save into")
	cmd.Flags().BoolVar(&parsed.Open, "open", false, "open the file when done")
	return cmd
}

func newFetchCmd() *cobra.Command {
	parsed := StartArgs{}
	var out string
	var open bool
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Queue a download, follow it, then save the file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed.URL = args[0]
			client, taskID, err := startTask(cmd, parsed)
			if err != nil {
				return err
			}
			if err := follow(cmd, client, taskID); err != nil {
				return err
			}
			fetch := FetchArgs{ID: taskID, Out: out, Open: open}
			if err := validateArgs(fetchArgsSchema, &fetch); err != nil {
				return err
			}
			return save(cmd, client, fetch)
		},
	}
	addStartFlags(cmd, &parsed)
	cmd.Flags().StringVarP(&out, "out", "o", ".", "directory to save into")
	cmd.Flags().BoolVar(&open, "open", false, "open the file when done")
	return cmd
}

func save(cmd *cobra.Command, client *sdk.Client, parsed FetchArgs) error {
	path, size, err := download(cmd.Context(), client, parsed.ID, parsed.Out)
	if err != nil {
		if errors.Is(err, schemas.ErrNotReady) {
			return fmt.Errorf("task %s is still running; try `clipq watch %s`", parsed.ID, parsed.ID)
		}
		return err
	}
	cliutil.PrintSaved(cmd.OutOrStdout(), path, size)
	if parsed.Open {
		return cliutil.OpenPath(path)
	}
	return nil
}

// download writes into a temp file first so an interrupted transfer never
// leaves a file under the final name.
func download(ctx context.Context, client *sdk.Client, taskID, outDir string) (string, int64, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", 0, err
	}
	tmp, err := os.CreateTemp(outDir, ".clipq-*.part")
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(tmp.Name())

	name, size, err := client.DownloadArtifact(ctx, taskID, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, err
	}
	name = filepath.Base(filepath.Clean(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = taskID
	}
	path := filepath.Join(outDir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, err
	}
	return path, size, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print client and daemon versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client: %s\n", conf.GetConfig().Version)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.Probe)
			defer cancel()
			remote, err := clientFactory().Version(ctx)
			if err != nil {
				fmt.Fprintln(out, "daemon: not running")
				return nil
			}
			fmt.Fprintf(out, "daemon: %s\n", remote)
			return nil
		},
	}
}

func newShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the daemon after running downloads finish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFactory()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SecondShort)
			defer cancel()
			if err := client.Shutdown(ctx); err != nil {
				return err
			}
			if !sdk.WaitForStop(client.BaseURL()) {
				return errors.New("daemon did not stop in time")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
			return nil
		},
	}
}
