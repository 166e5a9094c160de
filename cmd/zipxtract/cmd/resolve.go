package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/javi11/zipxtract/internal/extract"
	"github.com/javi11/zipxtract/internal/volume"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var resolveFlags struct {
	check    bool
	password passwordFlags
}

func init() {
	resolveCmd := &cobra.Command{
		Use:   "resolve VOLUME",
		Short: "Show the volume set an archive path belongs to",
		Long: `Resolve the first volume of the set VOLUME belongs to and list every volume
found next to it. With --check the archive is opened and its headers read,
which fails when a volume in the middle of the set is missing.`,
		Args: cobra.ExactArgs(1),
		RunE: runResolve,
	}

	resolveCmd.Flags().BoolVar(&resolveFlags.check, "check", false, "read the archive headers to verify the set")
	resolveFlags.password.register(resolveCmd)

	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	fsys := afero.NewOsFs()
	set, err := volume.Enumerate(fsys, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("scheme: %s\nfirst:  %s\n", set.Scheme, set.First)
	if set.Entry != set.First {
		fmt.Printf("entry:  %s\n", set.Entry)
	}
	var total int64
	for _, v := range set.Volumes {
		size := "?"
		if fi, err := fsys.Stat(v); err == nil {
			total += fi.Size()
			size = humanize.IBytes(uint64(fi.Size()))
		}
		fmt.Printf("  %s (%s)\n", v, size)
	}
	fmt.Printf("%d volume(s), %s\n", len(set.Volumes), humanize.IBytes(uint64(total)))

	if !resolveFlags.check {
		return nil
	}

	ctx := cmd.Context()
	a := newApp(ctx)
	defer a.Close()

	password, err := resolveFlags.password.resolve(args[0])
	if err != nil {
		return err
	}
	plan, err := a.extract.Inspect(ctx, extract.Request{ArchivePath: args[0], Password: password})
	if err != nil {
		return err
	}
	fmt.Printf("ok: %s archive with %d entries\n", plan.Kind, len(plan.Items))
	return nil
}
