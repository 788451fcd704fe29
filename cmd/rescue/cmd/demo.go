package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/rescue/internal/report"
	"github.com/psantana5/rescue/internal/shutdown"
	"github.com/psantana5/rescue/pkg/frames"
	"github.com/psantana5/rescue/pkg/intercept"
	"github.com/psantana5/rescue/pkg/retry"
	"github.com/psantana5/rescue/pkg/session"
)

var (
	showMetrics bool

	savePath   string
	trainDelay time.Duration

	fetchLimit    string
	fetchFailures int
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the example wrapped calls",
	Long:  `Runs small programs whose calls fail on purpose, to try the wrappers out.`,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if !showMetrics {
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return report.Global().WriteText(cmd.OutOrStdout())
	},
}

var demoSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save training results to a path that does not exist",
	Long: `Trains a tiny model and saves the results with an intercepted call. The
default path points into a missing directory, so the save fails and a session
opens. Inspect call_stack, then repair the call or skip it:

  >>> call_stack[0]
  >>> save("results.json", args[1])
  >>> skip(0)

Example:
  rescue demo save
  rescue demo save --path /tmp/results.json`,
	RunE: runDemoSave,
}

var demoFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch data from a source that fails a few times",
	Long: `Fetches data through a retry wrapper. The source fails --failures times
before answering, and each failure is reported until the limit is reached.

Example:
  rescue demo fetch
  rescue demo fetch --limit 2
  rescue demo fetch --limit unlimited --failures 20`,
	RunE: runDemoFetch,
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.AddCommand(demoSaveCmd)
	demoCmd.AddCommand(demoFetchCmd)

	demoCmd.PersistentFlags().BoolVar(&showMetrics, "show-metrics", false, "print wrapper metrics when done")

	demoSaveCmd.Flags().StringVar(&savePath, "path", filepath.Join("missing-dir", "results.json"), "where to save the results")
	demoSaveCmd.Flags().DurationVar(&trainDelay, "train-delay", 0, "simulated training time")

	demoFetchCmd.Flags().StringVar(&fetchLimit, "limit", "5", `retry limit: a count or "unlimited" (empty uses the config)`)
	demoFetchCmd.Flags().IntVar(&fetchFailures, "failures", 3, "failures before the source answers")
}

// consoleFor uses the process terminal unless the command's input has been
// replaced.
func consoleFor(cmd *cobra.Command) *session.Console {
	if cmd.InOrStdin() == os.Stdin {
		c := session.Stdio()
		stopper.Register("console", shutdown.CloseResource(c))
		return c
	}
	return session.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout())
}

var demoModule = frames.NewModule("main")

func runDemoSave(cmd *cobra.Command, args []string) error {
	ctx := frames.WithModule(commandContext(cmd), demoModule.Set("output_dir", filepath.Dir(savePath)))
	ctx, fr := frames.Enter(ctx, "demo.save", "path", savePath)

	data, err := train(ctx, trainDelay)
	if err != nil {
		fr.Leave(&err)
		return err
	}
	fr.Set("data", data)

	wrapped := intercept.Func2(save,
		intercept.WithParams("path", "data"),
		intercept.WithConsole(consoleFor(cmd)),
		intercept.WithLogger(logger),
		intercept.WithPrompt(cfg.Session.Prompt),
	)

	n, err := wrapped(ctx, savePath, data)
	fr.Leave(&err)
	if err != nil {
		if errors.Is(err, intercept.ErrAborted) {
			return fmt.Errorf("save abandoned: %w", err)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d bytes\n", n)
	fmt.Fprintln(cmd.OutOrStdout(), "All done!")
	return nil
}

func train(ctx context.Context, delay time.Duration) ([]int, error) {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return []int{1, 2, 3, 4, 5}, nil
}

// save writes data as JSON and returns the number of bytes written.
func save(ctx context.Context, path string, data []int) (int, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	if fr := frames.From(ctx); fr != nil {
		fr.Set("encoded", string(encoded))
	}
	return writeFile(ctx, path, encoded)
}

func writeFile(ctx context.Context, path string, b []byte) (n int, err error) {
	_, fr := frames.Enter(ctx, "writeFile", "path", path, "size", len(b))
	defer fr.Leave(&err)

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Write(b)
}

// source answers after failing a number of times.
type source struct {
	failures int
	calls    int
}

func (s *source) getData(context.Context) (string, error) {
	s.calls++
	if s.calls <= s.failures {
		return "", errors.New("Something went wrong")
	}
	return "some data", nil
}

func runDemoFetch(cmd *cobra.Command, args []string) error {
	p, err := cfg.Retry.Policy(fetchLimit,
		retry.WithOutput(cmd.OutOrStdout()),
		retry.WithLogger(logger),
		retry.WithName("getData"),
	)
	if err != nil {
		return err
	}

	src := &source{failures: fetchFailures}
	data, err := retry.FuncWith(p, src.getData)(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("fetch failed after %d calls: %w", src.calls, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), data)
	return nil
}
