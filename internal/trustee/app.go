// Package trustee runs a trustee node: it holds one Shamir share per
// escrowed application and releases it once per reveal epoch.
package trustee

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/trustee/api"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/trustee/config"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/trustee/store"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config *config.Config
	logger logging.Logger
	srv    *http.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Backend:    c.LogBackend,
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		FilePath:   c.LogFile,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 30,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	logger = logger.With("module", "trustee")

	db, err := store.Open(c.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	shares := store.New(db)
	if err := shares.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	h := api.NewHandler(c.ID, []byte(c.AuthSecret), shares, logger)
	srv := &http.Server{
		Addr:              c.HTTPAddress,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &App{config: c, logger: logger, srv: srv}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(cancelFunc)

	go func() {
		<-ctx.Done()
		app.logger.Info(context.Background(), "Stopping trustee HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = app.srv.Shutdown(sctx)
	}()

	app.logger.Info(ctx, "Starting trustee HTTP server", "address", app.config.HTTPAddress, "trustee_id", app.config.ID)
	if err := app.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
