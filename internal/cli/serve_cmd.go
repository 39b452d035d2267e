package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/dropzone/internal/core"
	"github.com/JonMunkholm/dropzone/internal/watch"
	"github.com/JonMunkholm/dropzone/internal/web"
)

func newServeCmd(e *env) *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch the drop folder and ingest stable files",
		Long: `Watch the drop folder tree and load every CSV file that stays unchanged
for the configured number of polls. The status API is served alongside
unless SERVER_ENABLED=false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if root != "" {
				e.cfg.Watch.Root = root
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return e.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Drop folder root (overrides WATCH_ROOT)")
	return cmd
}

// serve runs until ctx is canceled, then cancels running jobs and waits for
// them up to the shutdown timeout.
func (e *env) serve(ctx context.Context) error {
	cfg := e.cfg
	if err := cfg.ValidateWatch(); err != nil {
		return err
	}
	slog.Info("configuration loaded", "config", cfg.String())

	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	jobs := core.NewJobs(cfg.Ingest.JobRetention)
	engine := core.NewEngine(gw, jobs, engineConfig(cfg))
	limiter := core.NewIngestLimiter(cfg.Ingest.MaxConcurrent, cfg.Ingest.MaxWaitTime)

	sched, err := core.NewScheduler(schedulerConfig(cfg), engine, gw, limiter)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })

	if cfg.Watch.Notify {
		n, err := watch.NewNotifier(cfg.Watch.Root, cfg.Watch.ProcessedDir, cfg.Watch.ErrorDir)
		if err != nil {
			slog.Warn("filesystem notifications unavailable, polling only", "error", err)
		} else {
			n.OnChange = sched.Nudge
			g.Go(func() error { return n.Run(gctx) })
		}
	}

	var srv *web.Server
	if cfg.Server.Enabled {
		srv = web.NewServer(web.Deps{
			Jobs:    jobs,
			Backups: engine.Versioner(),
			Store:   gw,
			Limiter: limiter,
		}, cfg.Server)
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down", "active_ingestions", limiter.ActiveCount())

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := sched.Wait(shutdownCtx); err != nil {
			slog.Warn("ingestions did not finish in time", "error", err)
		} else {
			slog.Info("all ingestions finished")
		}
		if srv != nil {
			return srv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}
