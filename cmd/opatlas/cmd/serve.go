package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opatlas/opatlas/internal/version"
	"github.com/opatlas/opatlas/pkg/api"
	"github.com/opatlas/opatlas/pkg/auth"
	"github.com/opatlas/opatlas/pkg/config"
	"github.com/opatlas/opatlas/pkg/seed"
	"github.com/opatlas/opatlas/pkg/store"
	"github.com/opatlas/opatlas/pkg/types"
)

var serveSeed bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the opatlas HTTP API server",
	Long: `Start the HTTP API server serving playbooks, runs, checklists, and
recommendations. The storage backend, auth, and rate limiting are
configured via the config file.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "Load bundled demo playbooks into the store on startup")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.WithField("version", version.Full()).Info("Starting opatlas")

	st, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	defer func() {
		if err := st.Close(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	if serveSeed {
		demo := auth.DemoSession()
		author := types.Author{ID: demo.UserID, Name: demo.Name, Email: demo.Email}

		count, err := seed.Apply(context.Background(), st, demo.WorkspaceID, author)
		if err != nil {
			return fmt.Errorf("seeding store: %w", err)
		}

		log.WithField("playbooks", count).Info("Seeded demo playbooks")
	}

	sessions := auth.NewManager(log, cfg.Auth)
	server := api.New(log, cfg, st, sessions)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// buildStore opens the configured storage backend, wrapped with metrics
// instrumentation when metrics are enabled.
func buildStore(cfg *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)

	switch cfg.Storage.Backend {
	case config.StorageBackendSQLite:
		st, err = store.OpenSQLite(log, cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
	default:
		st = store.NewMemory(log)
	}

	if cfg.Observability.MetricsEnabled {
		st = store.NewInstrumented(st)
	}

	return st, nil
}
