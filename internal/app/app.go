// Package app initializes and runs the login/signup service.
// It configures logging, the credential store, namespace provisioning,
// sessions and routing, and handles graceful shutdown.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/sinkgate/internal/config"
	"github.com/patric-chuzhbe/sinkgate/internal/db/jsondb"
	"github.com/patric-chuzhbe/sinkgate/internal/db/memorystorage"
	"github.com/patric-chuzhbe/sinkgate/internal/db/postgresdb"
	"github.com/patric-chuzhbe/sinkgate/internal/db/storage"
	"github.com/patric-chuzhbe/sinkgate/internal/ipchecker"
	"github.com/patric-chuzhbe/sinkgate/internal/logger"
	"github.com/patric-chuzhbe/sinkgate/internal/models"
	"github.com/patric-chuzhbe/sinkgate/internal/namespace/fsnamespace"
	"github.com/patric-chuzhbe/sinkgate/internal/namespace/minionamespace"
	"github.com/patric-chuzhbe/sinkgate/internal/passwordhash"
	"github.com/patric-chuzhbe/sinkgate/internal/router"
	"github.com/patric-chuzhbe/sinkgate/internal/service"
	"github.com/patric-chuzhbe/sinkgate/internal/session"
	"github.com/patric-chuzhbe/sinkgate/internal/sessionjanitor"
)

const (
	janitorErrorChannelCapacity = 16
	shutdownTimeout             = 10 * time.Second
)

type namespaceProvisioner interface {
	CreateExclusive(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
}

// App encapsulates the configuration, HTTP handler, storage backend
// and the background session janitor.
type App struct {
	cfg         *config.Config
	db          storage.Storage
	janitor     *sessionjanitor.SessionJanitor
	stopJanitor context.CancelFunc
	httpHandler http.Handler
}

// New initializes a new instance of App by:
// - loading configuration
// - initializing logger
// - selecting and setting up the credential store and the namespace backend
// - setting up sessions and the background session janitor
// - setting up the router and middleware
func New() (*App, error) {
	var err error
	app := &App{}

	app.cfg, err = config.New()
	if err != nil {
		return nil, err
	}

	err = logger.Init(app.cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	app.db, err = getStorageByType(app.cfg)
	if err != nil {
		return nil, err
	}

	namespaces, err := getNamespaceProvisioner(app.cfg)
	if err != nil {
		return nil, errors.Join(err, app.db.Close())
	}

	hasher, err := passwordhash.New(app.cfg.PasswordHashCost)
	if err != nil {
		return nil, errors.Join(err, app.db.Close())
	}

	signingKey, err := getSigningKey(app.cfg)
	if err != nil {
		return nil, errors.Join(err, app.db.Close())
	}

	trustedNetwork, err := ipchecker.New(app.cfg.TrustedSubnet)
	if err != nil {
		return nil, errors.Join(err, app.db.Close())
	}

	sessionStore := session.NewStore(app.cfg.SessionTTL)

	app.janitor = sessionjanitor.New(
		sessionStore,
		app.cfg.SessionSweepInterval,
		janitorErrorChannelCapacity,
	)
	janitorRunCtx, stopJanitor := context.WithCancel(context.Background())
	app.stopJanitor = stopJanitor

	app.janitor.Run(janitorRunCtx)
	app.janitor.ListenErrors(func(err error) {
		logger.Log.Debugln("Error passed from the `app.janitor.ListenErrors()`:", zap.Error(err))
	})

	app.httpHandler = router.New(
		app.db,
		service.NewAuthenticator(app.db, hasher),
		service.NewRegistrar(app.db, hasher, namespaces),
		session.NewManager(
			sessionStore,
			app.cfg.SessionCookieName,
			signingKey,
			app.cfg.SessionTTL,
			app.cfg.EnableHTTPS,
		),
		trustedNetwork,
		app.cfg.LandingPage,
	)

	return app, nil
}

func (a *App) listenAndServe(server *http.Server) error {
	if a.cfg.EnableHTTPS {
		return server.ListenAndServeTLS(a.cfg.TLSCertFile, a.cfg.TLSKeyFile)
	}

	return server.ListenAndServe()
}

// Run starts the HTTP server with graceful shutdown support.
// It listens for system signals and cleans up resources upon termination.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Infoln("server running", "RunAddr", a.cfg.RunAddr, "HTTPS", a.cfg.EnableHTTPS)

	server := &http.Server{
		Addr:              a.cfg.RunAddr,
		Handler:           a.httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- a.listenAndServe(server)
	}()

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Closing the credential store and exiting...")
		a.stopJanitor()
		<-a.janitor.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Join(fmt.Errorf("server shutdown error: %w", err), a.db.Close())
		}

		return a.db.Close()

	case err := <-serverErrCh:
		a.stopJanitor()
		return errors.Join(fmt.Errorf("server error: %w", err), a.db.Close())
	}
}

// Close finalizes resources used by App such as logging.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.DatabaseDSN != "" {
		return models.StorageTypePostgresql
	}

	if cfg.DBFileName != "" {
		return models.StorageTypeFile
	}

	return models.StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (storage.Storage, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypeUnknown:
		return nil, errors.New("unknown storage type")

	case models.StorageTypePostgresql:
		return postgresdb.New(
			context.Background(),
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
		)

	case models.StorageTypeFile:
		return jsondb.New(cfg.DBFileName)
	}

	return memorystorage.New()
}

func getNamespaceProvisioner(cfg *config.Config) (namespaceProvisioner, error) {
	switch cfg.NamespaceBackend {
	case models.NamespaceBackendMinio:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DBConnectionTimeout)
		defer cancel()

		return minionamespace.New(ctx, minionamespace.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})

	case models.NamespaceBackendFS:
		return fsnamespace.New(cfg.NamespaceRoot)
	}

	return nil, fmt.Errorf("unknown namespace backend %q", cfg.NamespaceBackend)
}

// getSigningKey returns the configured key, or a random one when none is set.
// A random key invalidates every token on restart, which matches the in-memory session store.
func getSigningKey(cfg *config.Config) ([]byte, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}

	key = make([]byte, config.MinSigningKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf(
			"in internal/app/app.go/getSigningKey(): error while `rand.Read()` calling: %w",
			err,
		)
	}
	logger.Log.Warnln("SESSION_SIGNING_SECRET_KEY is not set; using a random key for this run")

	return key, nil
}
