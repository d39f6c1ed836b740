package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	clts "tippelaget/clients"
	"tippelaget/config"
	"tippelaget/internal/app"
	"tippelaget/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	// loadTimeout bounds the startup reads from Postgres
	loadTimeout = 30 * time.Second
)

var (
	configPath string
	devLogging bool
)

var rootCmd = &cobra.Command{
	Use:   "tippelaget",
	Short: "Betting-season dashboard, assistants and reports for the tippelaget league",
	Long: `tippelaget pulls the league's bets from the Cognite data model, computes the
season tables and serves them as a live dashboard, a JSON API and MCP tools.
New gameweeks are reported to Discord and Telegram.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigFile, "Path to the YAML config file (optional)")
	rootCmd.PersistentFlags().BoolVar(&devLogging, "dev", false, "Human-readable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if devLogging {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
}

// service is everything a command may need, wired from one config.
type service struct {
	logger  *zap.Logger
	cfg     *config.Config
	db      *sqlx.DB
	clients *clts.Clients
	runner  *app.Runner
}

func (s *service) Close() {
	if s.clients != nil {
		_ = s.clients.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// bootstrap loads config, overlays persisted settings, connects the stores
// and builds the runner.
func bootstrap(ctx context.Context, logger *zap.Logger) (*service, error) {
	fileConfig, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger.Info("starting tippelaget", zap.Bool("isProd", fileConfig.IsProd))

	s := &service{logger: logger, cfg: fileConfig}

	connectCtx, connectCancel := context.WithTimeout(ctx, loadTimeout)
	s.db, err = store.Connect(connectCtx, fileConfig.Database)
	connectCancel()
	if err != nil {
		// The bet backend alone is enough to run.
		logger.Warn("postgres unavailable, running without mirror, deposits and settings store", zap.Error(err))
		s.db = nil
	}

	// Create LiveConfig with file/env config as initial value
	liveConfig := config.NewLiveConfig(fileConfig)

	var settingsStore config.SettingsStore
	if s.db != nil {
		settingsStore = store.NewSettingsRepo(s.db, fileConfig.Database.QueryTimeout)
	}
	settingsManager := config.NewSettingsManager(logger, settingsStore, liveConfig)

	if settingsManager.IsEnabled() {
		loadCtx, loadCancel := context.WithTimeout(ctx, loadTimeout)
		cfg, err := settingsManager.LoadSettings(loadCtx, fileConfig)
		loadCancel()
		if err != nil {
			logger.Warn("failed to load persisted settings, using file/env/defaults", zap.Error(err))
		} else if cfg != nil {
			if err := liveConfig.Update(cfg); err != nil {
				logger.Warn("failed to apply persisted settings", zap.Error(err))
			} else {
				logger.Info("persisted settings loaded")
			}
		}
	} else {
		logger.Info("settings store not configured, using file/env/defaults")
	}
	s.cfg = liveConfig.Get()

	logger.Info("instantiating clients")
	s.clients, err = clts.NewClients(logger, s.cfg)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create clients: %w", err)
	}

	deps := app.DepsFromClients(s.clients, s.db, s.cfg.Database.QueryTimeout)
	s.runner = app.NewRunner(logger, deps, liveConfig, settingsManager)
	return s, nil
}

// withService runs fn with a bootstrapped service and a signal-aware context.
func withService(fn func(ctx context.Context, s *service) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	s, err := bootstrap(ctx, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}
