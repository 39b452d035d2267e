package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/dropzone/internal/core"
)

func newLoadCmd(e *env) *cobra.Command {
	var (
		mode      string
		reference bool
		keep      bool
		quiet     bool
	)

	cmd := &cobra.Command{
		Use:   "load <file.csv>",
		Short: "Load one CSV file now, bypassing the drop folder",
		Long: `Load one CSV file with the same pipeline the watcher uses. The target
table is derived from the file name. On success the file is moved to a
processed folder next to it unless --keep is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			f, err := trackedFile(args[0], core.Classification{Reference: reference, Mode: m})
			if err != nil {
				return err
			}
			if keep {
				e.cfg.Ingest.KeepSource = true
			}

			out := cmd.OutOrStdout()
			if quiet {
				out = io.Discard
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return e.loadFile(ctx, f, out)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(core.LoadAppend), "Load mode: fullload or append")
	cmd.Flags().BoolVar(&reference, "reference", false, "Load into the reference schema")
	cmd.Flags().BoolVar(&keep, "keep", false, "Leave the file in place after loading")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show progress")
	return cmd
}

func trackedFile(path string, class core.Classification) (core.TrackedFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return core.TrackedFile{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return core.TrackedFile{}, err
	}
	if info.IsDir() {
		return core.TrackedFile{}, fmt.Errorf("%s is a directory", path)
	}
	return core.TrackedFile{
		Path:         abs,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		DiscoveredAt: time.Now(),
		Class:        class,
	}, nil
}

func (e *env) loadFile(ctx context.Context, f core.TrackedFile, out io.Writer) error {
	gw, err := openGateway(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	engine := core.NewEngine(gw, core.NewJobs(e.cfg.Ingest.JobRetention), engineConfig(e.cfg))
	key, err := engine.Start(ctx, f)
	if err != nil {
		return err
	}

	bar := newProgressBar(out, engine.TargetTable(f).String())
	final, err := follow(ctx, engine.Jobs(), key, bar)
	if err != nil {
		return err
	}
	return report(out, final)
}

// jobWatcher is the part of *core.Jobs that follow needs.
type jobWatcher interface {
	Subscribe(key string) (<-chan core.JobStatus, error)
	Wait(ctx context.Context, key string) (core.JobStatus, error)
}

// follow drives bar from the job's updates and returns the terminal status.
// Updates may be dropped, so the result comes from Wait, not the last update.
func follow(ctx context.Context, jobs jobWatcher, key string, bar *progressbar.ProgressBar) (core.JobStatus, error) {
	updates, err := jobs.Subscribe(key)
	if err != nil {
		return core.JobStatus{}, err
	}
	for st := range updates {
		if st.Total > 0 && bar.GetMax64() != st.Total {
			bar.ChangeMax64(st.Total)
		}
		_ = bar.Set64(st.Inserted)
	}
	_ = bar.Finish()

	return jobs.Wait(context.WithoutCancel(ctx), key)
}

// newProgressBar shows rows inserted; the bar becomes a spinner until the
// row count is known.
func newProgressBar(out io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// report prints the outcome of a job and returns its error.
func report(out io.Writer, st core.JobStatus) error {
	fmt.Fprintf(out, "%s: %s, %d rows in %d batches\n", st.Table, st.Stage, st.Inserted, st.Batches)
	for _, r := range st.Rejected {
		fmt.Fprintf(out, "  rejected batch %d (lines %d-%d): %s\n", r.Index, r.FirstLine, r.LastLine, r.Reason)
	}
	for _, c := range st.Candidates {
		fmt.Fprintf(out, "  similar table %s (%.0f%% match)\n", c.Table, c.Match*100)
	}
	if st.Stage != core.StageDone {
		if st.Error != "" {
			return fmt.Errorf("%s: %s", st.Stage, st.Error)
		}
		return fmt.Errorf("ingestion ended in stage %s", st.Stage)
	}
	return nil
}
