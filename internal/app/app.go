package app

import (
	"context"
	"fmt"
	"io"

	"github.com/cozy-creator/model-cache/internal/config"
	"github.com/cozy-creator/model-cache/internal/db"
	"github.com/cozy-creator/model-cache/internal/db/drivers"
	"github.com/cozy-creator/model-cache/internal/db/migrations"
	"github.com/cozy-creator/model-cache/internal/db/repository"
	"github.com/cozy-creator/model-cache/internal/services/cachestore"
	"github.com/cozy-creator/model-cache/internal/services/connectivity"
	"github.com/cozy-creator/model-cache/internal/services/diskspace"
	"github.com/cozy-creator/model-cache/internal/services/model_downloader"
	repoclient "github.com/cozy-creator/model-cache/internal/services/repository"
	"github.com/cozy-creator/model-cache/pkg/logger"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

type App struct {
	driver     drivers.Driver
	config     *config.Config
	ctx        context.Context
	cancelFunc context.CancelFunc

	client   repoclient.Client
	progress io.Writer
	space    *diskspace.Checker

	Logger     *zap.Logger
	Store      *cachestore.Store
	Downloader *model_downloader.ModelDownloaderManager

	DownloadRepository repository.IDownloadRepository
}

// Option funcs used to initialize the App struct
type OptionFunc func(app *App) error

func WithLogger(logger *zap.Logger) OptionFunc {
	return func(app *App) error {
		app.Logger = logger
		return nil
	}
}

func WithDB(driver drivers.Driver) OptionFunc {
	return func(app *App) error {
		app.driver = driver
		return app.initHistory()
	}
}

// WithDBInitialization connects to the configured history database and
// migrates it. It is a no-op when no dsn is configured.
func WithDBInitialization() OptionFunc {
	return func(app *App) error {
		if !app.config.HistoryEnabled() {
			return nil
		}

		driver, err := db.NewConnection(app.ctx, app.config.DB)
		if err != nil {
			return fmt.Errorf("connect history database: %w", err)
		}
		app.driver = driver
		return app.initHistory()
	}
}

// WithRepositoryClient overrides the client built from the config.
func WithRepositoryClient(client repoclient.Client) OptionFunc {
	return func(app *App) error {
		app.client = client
		return nil
	}
}

// WithProgress renders transfer progress bars to w.
func WithProgress(w io.Writer) OptionFunc {
	return func(app *App) error {
		app.progress = w
		return nil
	}
}

func WithSpaceChecker(c *diskspace.Checker) OptionFunc {
	return func(app *App) error {
		app.space = c
		return nil
	}
}

func (app *App) initHistory() error {
	if err := migrations.Migrate(app.ctx, app.driver.GetDB(), app.Logger); err != nil {
		return err
	}
	app.DownloadRepository = repository.NewDownloadRepository(app.driver.GetDB())
	return nil
}

func NewApp(config *config.Config, options ...OptionFunc) (*App, error) {
	l, err := logger.NewLogger(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		ctx:        ctx,
		config:     config,
		Logger:     l,
		cancelFunc: cancel,
	}

	// Apply all options
	for _, opt := range options {
		if err := opt(app); err != nil {
			// history is optional; keep going without it
			app.Logger.Error("failed to apply option", zap.Error(err))
		}
	}

	app.Store, err = cachestore.NewStore(config.CacheDir, app.Logger)
	if err != nil {
		cancel()
		return nil, err
	}

	if app.client == nil {
		app.client, err = repoclient.NewClientFromConfig(ctx, config,
			repoclient.WithLogger(app.Logger),
			repoclient.WithProgress(app.progress),
		)
		if err != nil {
			cancel()
			return nil, err
		}
	}
	if config.Offline {
		app.Logger.Info("offline mode, serving from the local hub cache")
	}

	var dlOpts []model_downloader.Option
	if app.DownloadRepository != nil {
		dlOpts = append(dlOpts, model_downloader.WithHistory(app.DownloadRepository))
	}
	if app.space != nil {
		dlOpts = append(dlOpts, model_downloader.WithSpaceChecker(app.space))
	}
	app.Downloader, err = model_downloader.NewModelDownloaderManager(config, app.Store, app.client, app.Logger, dlOpts...)
	if err != nil {
		cancel()
		return nil, err
	}

	return app, nil
}

// Connectivity probes the configured endpoint.
func (app *App) Connectivity() *connectivity.Checker {
	return connectivity.NewChecker([]string{app.config.Endpoint}, app.Logger)
}

func (app *App) Close() {
	app.cancelFunc()

	if app.driver != nil {
		if err := app.driver.Close(); err != nil {
			app.Logger.Warn("failed to close database", zap.Error(err))
		}
	}
	_ = app.Logger.Sync()
}

func (app *App) Config() *config.Config {
	return app.config
}

func (app *App) Context() context.Context {
	return app.ctx
}

func (app *App) DB() *bun.DB {
	if app.driver == nil {
		return nil
	}
	return app.driver.GetDB()
}
