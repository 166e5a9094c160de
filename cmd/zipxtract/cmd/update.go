package cmd

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/javi11/zipxtract/internal/operation"
	"github.com/javi11/zipxtract/internal/update"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var updateFlags struct {
	add      []string
	remove   []string
	quiet    bool
	split    string
	password passwordFlags
}

func init() {
	updateCmd := &cobra.Command{
		Use:   "update ARCHIVE",
		Short: "Add and remove entries of a zip or tar archive",
		Long: `Rewrite a single-volume zip or tar archive with entries removed and files
added. The archive is replaced only once the rewrite has fully succeeded. A
missing archive is created. 7z and RAR archives, multi-volume sets and
compressed tar archives cannot be updated.

--add takes SRC or SRC=NAME, where NAME is the path inside the archive.
--remove takes an entry path; removing a directory removes its contents.
--split-size writes a zip archive as ARCHIVE.001, ARCHIVE.002, ... volumes
of at most that size (for example 100MB or 4GiB) and removes ARCHIVE.`,
		Args: cobra.ExactArgs(1),
		RunE: runUpdate,
	}

	updateCmd.Flags().StringArrayVarP(&updateFlags.add, "add", "a", nil, "file or directory to add, as SRC[=NAME]")
	updateCmd.Flags().StringArrayVarP(&updateFlags.remove, "remove", "r", nil, "entry to remove")
	updateCmd.Flags().BoolVarP(&updateFlags.quiet, "quiet", "q", false, "do not show a progress bar")
	updateCmd.Flags().StringVar(&updateFlags.split, "split-size", "", "write a zip archive as volumes of this size")
	updateFlags.password.register(updateCmd)

	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := newApp(ctx)
	defer a.Close()

	splitSize, err := parseSplitSize(updateFlags.split)
	if err != nil {
		return err
	}
	password, err := updateFlags.password.resolve(args[0])
	if err != nil {
		return err
	}

	op := &operation.Update{
		Engine: a.update,
		Request: update.Request{
			ArchivePath: args[0],
			Add:         lo.Map(updateFlags.add, func(spec string, _ int) update.AddItem { return parseAdd(spec) }),
			Remove:      updateFlags.remove,
			Password:    password,
			SplitSize:   splitSize,
		},
	}

	bars := !updateFlags.quiet && term.IsTerminal(int(os.Stderr.Fd()))
	res := a.runner.Submit(ctx, op, progressCallbacks(filepath.Base(args[0]), bars)).Wait()
	if !res.OK() {
		if res.Status == operation.StatusCancelled || res.Status == operation.StatusWrongPassword {
			return res.Err
		}
		return fmt.Errorf("update failed: %s", res)
	}

	fmt.Println(res.Path)
	return nil
}

// parseAdd splits SRC=NAME. Without '=' the entry is named after SRC.
func parseAdd(spec string) update.AddItem {
	src, name, _ := strings.Cut(spec, "=")
	return update.AddItem{Source: src, Name: filepath.ToSlash(name)}
}

// parseSplitSize reads sizes such as "100MB" or "4GiB". Empty means no
// splitting.
func parseSplitSize(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid --split-size %q: %w", v, err)
	}
	if n == 0 || n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid --split-size %q: must be between 1 byte and 8 EiB", v)
	}
	return int64(n), nil
}
