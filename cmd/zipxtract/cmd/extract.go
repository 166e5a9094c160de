package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/extract"
	"github.com/javi11/zipxtract/internal/operation"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// passwordAttempts bounds interactive retries after a wrong password.
const passwordAttempts = 3

var extractFlags struct {
	output   string
	parallel int
	quiet    bool
	password passwordFlags
}

func init() {
	extractCmd := &cobra.Command{
		Use:   "extract ARCHIVE...",
		Short: "Extract archives into new directories",
		Long: `Extract each archive into a fresh directory named after it. Any volume of a
multi-volume set may be given; the whole set is resolved from it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runExtract,
	}

	extractCmd.Flags().StringVarP(&extractFlags.output, "output", "o", "", "parent directory of the extraction directories")
	extractCmd.Flags().IntVarP(&extractFlags.parallel, "parallel", "j", 0, "archives extracted at once (default from config)")
	extractCmd.Flags().BoolVarP(&extractFlags.quiet, "quiet", "q", false, "do not show progress bars")
	extractFlags.password.register(extractCmd)

	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := newApp(ctx)
	defer a.Close()

	parallel := extractFlags.parallel
	if parallel <= 0 {
		parallel = a.cfg.Extract.Parallel
	}

	bars := !extractFlags.quiet && term.IsTerminal(int(os.Stderr.Fd()))
	// concurrent bars would overwrite each other
	if parallel > 1 && len(args) > 1 {
		bars = false
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	g := new(errgroup.Group)
	g.SetLimit(parallel)
	for _, path := range args {
		g.Go(func() error {
			res := extractOne(ctx, a, path, bars)
			if res.OK() {
				fmt.Printf("%s -> %s\n", path, res.Path)
				return nil
			}
			mu.Lock()
			failed = append(failed, path)
			mu.Unlock()
			fmt.Fprintf(os.Stderr, "%s: %s\n", path, res)
			if res.Status == operation.StatusCancelled {
				return res.Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d archives failed", len(failed), len(args))
	}
	return nil
}

// extractOne runs one extraction, asking again for the password after a
// wrong one when a terminal is attached.
func extractOne(ctx context.Context, a *app, path string, bars bool) operation.Result {
	password, err := extractFlags.password.resolve(path)
	if err != nil {
		return operation.ResultOf("", err)
	}

	for attempt := 1; ; attempt++ {
		op := &operation.Extract{
			Engine: a.extract,
			Request: extract.Request{
				ArchivePath: path,
				Destination: extractFlags.output,
				Password:    password,
			},
		}

		res := a.runner.Submit(ctx, op, progressCallbacks(filepath.Base(path), bars)).Wait()
		if res.Status != operation.StatusWrongPassword || attempt >= passwordAttempts || !canPrompt() {
			return res
		}

		slog.InfoContext(ctx, "Archive needs a password", "archive", path, "attempt", attempt)
		if password, err = promptPassword(path); err != nil {
			return operation.ResultOf("", errors.Wrap(errors.KindWrongPassword, "no password", err))
		}
	}
}

// progressCallbacks renders progress as a bar, or logs it at debug level
// when bars are off.
func progressCallbacks(description string, bars bool) operation.Callbacks {
	if !bars {
		start := time.Now()
		return operation.Callbacks{
			OnProgress: func(percent int) {
				slog.Debug("Progress", "archive", description, "percent", percent, "elapsed", time.Since(start))
			},
		}
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "█", SaucerHead: "█", SaucerPadding: "░",
			BarStart: "[", BarEnd: "]",
		}),
	)
	return operation.Callbacks{
		OnProgress: func(percent int) {
			_ = bar.Set(percent)
		},
		OnComplete: func(operation.Result) {
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
		},
		OnError: func(operation.Result) {
			_ = bar.Exit()
			fmt.Fprintln(os.Stderr)
		},
	}
}
