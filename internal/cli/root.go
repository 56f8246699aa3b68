// Package cli implements the comic-survey CLI commands.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/comic-survey/internal/assign"
	"github.com/rcliao/comic-survey/internal/catalog"
	"github.com/rcliao/comic-survey/internal/config"
	"github.com/rcliao/comic-survey/internal/logger"
	"github.com/rcliao/comic-survey/internal/session"
	"github.com/rcliao/comic-survey/internal/sink"
	"github.com/rcliao/comic-survey/internal/store"
)

var (
	configPath  string
	dbPath      string
	backendFlag string
	formatFlag  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "comic-survey",
	Short: "Comic comprehension survey",
	Long:  "Runs the comic comprehension survey: balanced group assignment, one session per participant, results appended to a shared CSV.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $SURVEY_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite database path (default: $SURVEY_DB or ~/.comic-survey/survey.db)")
	RootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Storage backend: sqlite, memory, redis or gcs")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text (export: csv or json)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if backendFlag != "" {
		cfg.Store.Backend = backendFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemStore(), nil
	case "redis":
		return store.NewRedisStore(ctx, cfg.Store.RedisAddr, cfg.Store.RedisPrefix)
	case "gcs":
		return store.NewGCSStore(ctx, cfg.Store.GCSBucket, cfg.Store.GCSPrefix)
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.DBPath)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Store.Backend)
}

func newLogger(cfg *config.Config) *logger.Logger {
	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Salt)
	if err != nil {
		exitErr("init logger", err)
	}
	return log
}

// contentSource picks where stimulus images are listed from. Content in a
// bucket reuses the gcs backend when it is already open.
func contentSource(ctx context.Context, cfg *config.Config, b store.Backend) (catalog.Source, func() error, error) {
	if cfg.Content.Source != "gcs" {
		return catalog.DirSource{Dir: cfg.Content.Dir}, func() error { return nil }, nil
	}
	if g, ok := b.(*store.GCSStore); ok {
		return catalog.BucketSource{Bucket: g, Dir: cfg.Content.Dir}, func() error { return nil }, nil
	}
	g, err := store.NewGCSStore(ctx, cfg.Store.GCSBucket, "")
	if err != nil {
		return nil, nil, err
	}
	return catalog.BucketSource{Bucket: g, Dir: cfg.Content.Dir}, g.Close, nil
}

func newSink(cfg *config.Config, b store.Backend, log *logger.Logger) *sink.Sink {
	return sink.New(b, sink.Options{
		Key:         cfg.Results.Key,
		Schema:      cfg.Schema(),
		MaxAttempts: cfg.Results.MaxAttempts,
		Timeout:     cfg.StoreTimeout(),
		Log:         log,
	})
}

// newFactory wires the assigner, catalog and sink of one deployment.
func newFactory(ctx context.Context, cfg *config.Config, b store.Backend, log *logger.Logger) (*session.Factory, func() error, error) {
	a, err := assign.New(b, assign.Options{
		NS:          cfg.Experiment,
		Groups:      cfg.Groups(),
		MaxAttempts: cfg.Assign.MaxAttempts,
		Timeout:     cfg.StoreTimeout(),
		Log:         log,
	})
	if err != nil {
		return nil, nil, err
	}
	src, closeSrc, err := contentSource(ctx, cfg, b)
	if err != nil {
		return nil, nil, err
	}
	f := &session.Factory{
		Assigner: a,
		Catalog:  catalog.New(src, cfg.Content.Separator, cfg.Content.Extensions),
		Sink:     newSink(cfg, b, log),
		Config: session.Config{
			Levels:     cfg.Levels(),
			Dimensions: cfg.Dimensions(),
			Log:        log,
		},
	}
	return f, closeSrc, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
