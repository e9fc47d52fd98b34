// Package server wires and runs the escrow node: the HTTP API, the ledger,
// the event watcher, the reveal coordinator and the retry worker.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/kv"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/api"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/blobstore"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/config"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/escrow"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/ledger"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/proof"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/queue"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/registry"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/repomanager"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/reveal"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/trusteeclient"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/watcher"
)

const keyPrefix = "escrow:"

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	rdb     *redis.Client
	api     *api.Server
	watcher *watcher.Watcher
	reveals *reveal.Coordinator
	worker  *queue.Worker
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Backend:    c.LogBackend,
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		FilePath:   c.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	if c.ShareThreshold < 2 || c.ShareThreshold > len(c.Trustees) {
		return nil, fmt.Errorf("share threshold %d does not fit %d trustees", c.ShareThreshold, len(c.Trustees))
	}

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	tx := dbx.NewSQLTransactor(db, nil)

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddress, DB: c.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis init error: %w", err)
	}

	var store kv.Store
	switch c.KVBackend {
	case "redis":
		store = kv.NewRedisStore(rdb, keyPrefix)
	case "memory":
		store = kv.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown kv backend %q", c.KVBackend)
	}

	var blobs blobstore.Store
	switch c.BlobBackend {
	case "s3":
		blobs, err = blobstore.NewS3Store(ctx, blobstore.S3Options{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("blob store init error: %w", err)
		}
	case "memory":
		blobs = blobstore.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}

	vk, err := proof.LoadVerifyingKey(c.VerifyingKeyPath)
	if err != nil {
		return nil, err
	}
	verifier := proof.NewGroth16Verifier(vk, blobs, logger)

	l := ledger.NewService(tx, repos, verifier, &ledger.SystemClock{}, logger)

	trustees := make([]trusteeclient.Trustee, len(c.Trustees))
	for i, t := range c.Trustees {
		trustees[i] = trusteeclient.Trustee{ID: t.ID, URL: t.URL}
	}
	topts := trusteeclient.DefaultOptions()
	topts.DistributeTimeout = c.DistributeTimeout
	topts.DistributeAttempts = c.DistributeAttempts
	topts.DistributeBackoff = c.DistributeBackoff
	topts.CollectTimeout = c.CollectTimeout
	topts.Secret = []byte(c.TrusteeAuthSecret)
	client := trusteeclient.New(trustees, topts, nil, logger)

	jobs := queue.New(rdb, keyPrefix)
	wopts := queue.DefaultWorkerOptions()
	wopts.Interval = c.RetryInterval
	wopts.MaxAttempts = c.RetryMaxAttempts
	worker := queue.NewWorker(jobs, wopts, logger)

	esc := escrow.NewService(l, blobs, tx, repos, client, jobs, c.ShareThreshold, wopts.BaseDelay, logger)

	ropts := reveal.DefaultOptions()
	ropts.BlobTimeout = c.BlobTimeout
	ropts.RetryDelay = wopts.BaseDelay
	coord := reveal.NewCoordinator(l, tx, repos, client, blobs, store, jobs, ropts, logger)

	worker.Handle(queue.KindReveal, coord.HandleJob)
	worker.Handle(queue.KindDistribute, func(ctx context.Context, job queue.Job) error {
		return esc.RetryDistribution(ctx, job.LoanID, job.ActivityCommitment)
	})

	wtopts := watcher.DefaultOptions()
	wtopts.Interval = c.PollInterval
	w := watcher.New(l, repos.Cursors(tx.Conn()), wtopts, logger)

	srv := api.NewServer(c.HTTPAddress, l, esc, registry.New(store, logger), coord, api.Secrets{
		LenderToken: []byte(c.LenderTokenSecret),
		AdminToken:  c.AdminToken,
	}, logger)

	if c.GeneratedAdminToken {
		logger.Warn(ctx, "no admin token configured, generated one for this run", "admin_token", c.AdminToken)
	}

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		rdb:     rdb,
		api:     srv,
		watcher: w,
		reveals: coord,
		worker:  worker,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.api.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a signal arrives or the HTTP server fails, then waits
// for every background loop to return.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.watcher.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if n, err := app.reveals.Backlog(ctx); err != nil {
			app.logger.Error(ctx, "reveal backlog failed", "error", err)
		} else if n > 0 {
			app.logger.Info(ctx, "reveal backlog processed", "revealed", n)
		}
		app.reveals.Run(ctx, app.watcher.Defaults())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.worker.Run(ctx)
	}()

	wg.Wait()

	if err := app.rdb.Close(); err != nil {
		app.logger.Error(context.Background(), "redis close", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
