package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/genevault/internal/filex"
	"github.com/dmitrijs2005/genevault/internal/server/models"
)

func (a *App) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

// parse parses args into fs and checks the positional count.
func parse(fs *flag.FlagSet, args []string, positional int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, usageError{err.Error()}
	}
	if fs.NArg() != positional {
		return nil, usageError{fmt.Sprintf("expected %d argument(s), got %d", positional, fs.NArg())}
	}
	return fs.Args(), nil
}

func requireOwner(owner string) error {
	if owner == "" {
		return usageError{"-owner is required"}
	}
	return nil
}

func runStore(ctx context.Context, a *App, args []string) error {
	fs := a.flagSet("store")
	owner := fs.String("owner", "", "owner ID")
	name := fs.String("name", "", "file name to record when reading stdin")
	pos, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	if err := requireOwner(*owner); err != nil {
		return err
	}

	var (
		r        io.Reader
		filename = pos[0]
	)
	if filename == "-" {
		if *name == "" {
			return usageError{"-name is required when reading stdin"}
		}
		r, filename = a.in, *name
	} else {
		f, err := os.Open(filename)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	rec, err := a.backend.Files().Upload(ctx, *owner, filename, r)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\t%s\t%s\t%d\t%s\n", rec.ID, rec.Filename, rec.ContentType, rec.Size, rec.WrappedKey.Kind)
	return nil
}

func runFetch(ctx context.Context, a *App, args []string) error {
	fs := a.flagSet("fetch")
	owner := fs.String("owner", "", "owner ID")
	outPath := fs.String("o", "", "output path (must not exist); stdout when empty")
	pos, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	if err := requireOwner(*owner); err != nil {
		return err
	}

	_, rc, err := a.backend.Files().Download(ctx, *owner, pos[0])
	if err != nil {
		return err
	}
	defer rc.Close()

	if *outPath == "" {
		_, err = io.Copy(a.out, rc)
		return err
	}
	_, err = filex.CopyToFile(*outPath, rc, 0o600)
	return err
}

func runDelete(ctx context.Context, a *App, args []string) error {
	fs := a.flagSet("delete")
	owner := fs.String("owner", "", "owner ID")
	pos, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	if err := requireOwner(*owner); err != nil {
		return err
	}
	return a.backend.Files().Delete(ctx, *owner, pos[0])
}

func runAnalyze(ctx context.Context, a *App, args []string) error {
	fs := a.flagSet("analyze")
	owner := fs.String("owner", "", "owner ID")
	pos, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	if err := requireOwner(*owner); err != nil {
		return err
	}

	rep, err := a.backend.Files().Analyze(ctx, *owner, pos[0])
	if err != nil {
		return err
	}
	if rep.CleanupErr != nil {
		fmt.Fprintln(a.errOut, "warning: staged plaintext not fully removed:", rep.CleanupErr)
	}
	fmt.Fprintln(a.out, string(rep.Result.Output))
	return nil
}

func runList(ctx context.Context, a *App, args []string) error {
	fs := a.flagSet("list")
	owner := fs.String("owner", "", "owner ID")
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}
	if err := requireOwner(*owner); err != nil {
		return err
	}

	recs, err := a.backend.Files().List(ctx, *owner)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSIZE\tKEY\tCREATED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.Filename, r.ContentType, r.Size, r.WrappedKey.Kind, r.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runLedger(ctx context.Context, a *App, args []string) error {
	fs := a.flagSet("ledger")
	owner := fs.String("owner", "", "owner ID, all owners when empty")
	limit := fs.Int("limit", 100, "maximum entries")
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}

	entries, err := a.backend.Files().Deletions(ctx, models.DeletionQuery{OwnerID: *owner, Limit: *limit})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DELETED\tOWNER\tFILE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.DeletedAt.Format(time.RFC3339), e.OwnerID, e.FileID)
	}
	return tw.Flush()
}

func runSweep(ctx context.Context, a *App, args []string) error {
	if _, err := parse(a.flagSet("sweep"), args, 0); err != nil {
		return err
	}
	return a.backend.Prepare(ctx)
}

func runPrune(ctx context.Context, a *App, args []string) error {
	if _, err := parse(a.flagSet("prune"), args, 0); err != nil {
		return err
	}
	n, err := a.backend.Ledger().Prune(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "pruned %d ledger entries\n", n)
	return nil
}

func runMode(ctx context.Context, a *App, args []string) error {
	if _, err := parse(a.flagSet("mode"), args, 0); err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.backend.Mode())
	return nil
}
