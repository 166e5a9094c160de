package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/archive/rar"
	"github.com/javi11/zipxtract/internal/extract"
	"github.com/javi11/zipxtract/internal/volume"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var listFlags struct {
	volumes  bool
	password passwordFlags
}

func init() {
	listCmd := &cobra.Command{
		Use:   "list ARCHIVE",
		Short: "List the entries of an archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}

	listCmd.Flags().BoolVar(&listFlags.volumes, "volumes", false, "show which volumes hold each file (rar only)")
	listFlags.password.register(listCmd)

	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := newApp(ctx)
	defer a.Close()

	password, err := listFlags.password.resolve(args[0])
	if err != nil {
		return err
	}

	plan, err := a.extract.Inspect(ctx, extract.Request{ArchivePath: args[0], Password: password})
	if err != nil {
		return err
	}

	if listFlags.volumes && plan.Kind.Format == archive.FormatRar {
		return listLayout(cmd, a, plan.Set, password)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tSIZE\tMODIFIED\tNAME")
	for _, item := range plan.Items {
		size := humanize.IBytes(uint64(item.Size))
		if item.IsDir {
			size = "-"
		}
		name := item.Path
		if item.Encrypted {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.Mode, size, item.Modified.Format("2006-01-02 15:04"), name)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%s\n", planSummary(plan))
	return nil
}

func planSummary(plan *extract.Plan) string {
	files := lo.CountBy(plan.Items, func(item archive.Item) bool { return !item.IsDir })
	return fmt.Sprintf("%s archive, %s, %s in %s",
		plan.Kind, english.Plural(len(plan.Set.Volumes), "volume", ""),
		humanize.IBytes(uint64(plan.TotalBytes)), english.Plural(files, "file", ""))
}

func listLayout(cmd *cobra.Command, a *app, set volume.Set, password string) error {
	ctx := cmd.Context()
	p := volume.NewProvider(ctx, a.fs, set.Entry)
	defer p.Close()

	layout, err := rar.Layout(ctx, p, set, a.cfg.Options(password))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tPACKED\tMETHOD\tVOLUMES")
	for _, f := range layout {
		volumes := lo.Uniq(lo.Map(f.Parts, func(part rar.Part, _ int) string { return part.Volume }))
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", f.Path,
			humanize.IBytes(uint64(f.UnpackedSize)), humanize.IBytes(uint64(f.PackedSize)),
			f.CompressionMethod, len(volumes))
		for _, part := range f.Parts {
			fmt.Fprintf(w, "\t\t%s\t@%d\t%s\n", humanize.IBytes(uint64(part.PackedSize)), part.DataOffset, part.Volume)
		}
	}
	return w.Flush()
}
