package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/joho/godotenv"
	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"

	"mediarelay/config"
	"mediarelay/handlers"
	"mediarelay/internal/database"
	"mediarelay/internal/logging"
	"mediarelay/services/relay"
	"mediarelay/services/streaming"
	"mediarelay/utils"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[main] could not read .env: %v", err)
	}

	settingsPath := flag.String("config", envOr(config.EnvPrefix+"CONFIG", "data/settings.json"), "path to the JSON settings file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *settingsPath); err != nil {
		log.Fatalf("[main] %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(ctx context.Context, settingsPath string) error {
	mgr := config.NewManager(settingsPath)
	settings, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	_, logCloser, err := logging.Setup(logging.Options{
		Level:      settings.Log.Level,
		Format:     settings.Log.Format,
		File:       settings.Log.File,
		MaxSizeMB:  settings.Log.MaxSizeMB,
		MaxBackups: settings.Log.MaxBackups,
		MaxAgeDays: settings.Log.MaxAgeDays,
	}, os.Stdout)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer logCloser.Close()

	db, err := openDatabase(ctx, settings)
	if err != nil {
		return err
	}
	defer db.Close()

	cfg := config.NewConfigAdapter(mgr).GetConfig()
	client := relay.NewClient(relay.Options{
		ChunkSize:      cfg.RelayChunkSize,
		UserAgent:      cfg.UserAgent,
		ConnectTimeout: cfg.ConnectTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	})
	dispatcher := streaming.NewDispatcher(db.Media,
		streaming.NewFileProvider(afero.NewOsFs(), cfg.FileChunkSize),
		relay.NewProvider(client, cfg.RadioContentType),
	)
	tracker := streaming.NewTracker()

	router := utils.NewRouter(
		handlers.NewMediaHandler(dispatcher, db.Media, tracker),
		handlers.NewAdminHandler(tracker),
		handlers.NewDebugHandler(log.Default()),
	)

	srv := &http.Server{
		Addr:              settings.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv, time.Duration(settings.Server.ShutdownTimeoutSeconds)*time.Second)
}

// openDatabase retries while the database file is locked or its volume is not mounted yet.
func openDatabase(ctx context.Context, settings config.Settings) (*database.DB, error) {
	db, err := retry.DoWithData(
		func() (*database.DB, error) {
			return database.NewDB(database.Config{
				DatabasePath: settings.Database.Path,
				MediaRoot:    settings.Media.Root,
			})
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("database.open.retry", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", settings.Database.Path, err)
	}
	return db, nil
}

// serve runs srv until ctx is cancelled, then drains in-flight streams for at most grace.
func serve(ctx context.Context, srv *http.Server, grace time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var serveErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		log.Printf("[main] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
		cancel()
	})
	wg.Go(func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), grace)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			// live relays never finish on their own
			log.Printf("[main] graceful shutdown incomplete: %v", err)
			srv.Close()
		}
	})
	wg.Wait()

	if serveErr != nil {
		return fmt.Errorf("serve %s: %w", srv.Addr, serveErr)
	}
	log.Printf("[main] server stopped")
	return nil
}
