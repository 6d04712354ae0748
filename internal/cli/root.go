// Package cli provides the command-line interface for the GTT planner.
package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kite-gtt/internal/broker"
	"kite-gtt/internal/config"
	"kite-gtt/internal/errors"
	"kite-gtt/internal/logging"
	"kite-gtt/internal/metrics"
	"kite-gtt/internal/models"
	"kite-gtt/internal/quotes"
	"kite-gtt/internal/store"
	"kite-gtt/internal/watchlist"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies. Broker, store and price cache are
// built on first use so commands that do not need them work without
// credentials.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	paper  bool
	broker broker.Broker
	store  store.DataStore
	now    func() time.Time
}

// Execute builds the root command and runs it.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{
		Logger:  zerolog.Nop(),
		Metrics: metrics.New(),
		now:     time.Now,
	}

	rootCmd := &cobra.Command{
		Use:   "gtt",
		Short: "Plan and place staged GTT buy orders on Zerodha Kite",
		Long: `gtt turns a watchlist of staged entry prices into Good Till Triggered buy
orders, keeps at most one live buy GTT per symbol, and tracks the ROI of the
resulting holdings over time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/kite-gtt)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("paper", false, "use the simulated paper broker")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newAuthCmd(app))
	rootCmd.AddCommand(newPlanCmd(app))
	rootCmd.AddCommand(newSyncCmd(app))
	rootCmd.AddCommand(newOrdersCmd(app))
	rootCmd.AddCommand(newHoldingsCmd(app))
	rootCmd.AddCommand(newROICmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newQuotesCmd(app))

	return rootCmd
}

func (a *App) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.File = cfg.Log.File
	logCfg.FilePath = cfg.LogPath()
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
	}
	a.Logger = logging.NewLoggerWithConfig(logCfg)

	a.paper, _ = cmd.Flags().GetBool("paper")
	return nil
}

// Close releases the store and writes the metrics textfile when configured.
func (a *App) Close() {
	if a.Config != nil && a.Config.Metrics.Textfile != "" {
		if err := a.Metrics.WriteTextfile(a.Config.Path(a.Config.Metrics.Textfile)); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to write metrics textfile")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close store")
		}
		a.store = nil
	}
}

// Broker returns the configured broker: the paper broker with --paper,
// otherwise Kite Connect.
func (a *App) Broker() (broker.Broker, error) {
	if a.broker != nil {
		return a.broker, nil
	}

	if a.paper {
		pb, err := broker.NewPaperBroker(broker.PaperBrokerConfig{
			StatePath: filepath.Join(a.Config.Dir, "paper.json"),
		})
		if err != nil {
			return nil, err
		}
		a.Logger.Debug().Msg("Paper broker initialized")
		a.broker = pb
		return pb, nil
	}

	creds := a.Config.Credentials.Kite
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("kite api_key and api_secret are required in credentials.toml: %w", errors.ErrInsufficientConfig)
	}
	a.broker = broker.NewKiteBroker(broker.KiteConfig{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
		UserID:    creds.UserID,
		TokenPath: filepath.Join(a.Config.Dir, "session.json"),
	}, a.Logger)
	a.Logger.Debug().Msg("Kite broker initialized")
	return a.broker, nil
}

// Store opens the SQLite ledger.
func (a *App) Store() (store.DataStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.NewSQLiteStore(a.Config.DatabasePath())
	if err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}

// NewCache builds an empty price cache for the configured provider.
func (a *App) NewCache() (*quotes.Cache, error) {
	opts := quotes.ProviderOptions{
		Name:              a.Config.Quotes.Provider,
		BaseURL:           a.Config.Quotes.BaseURL,
		Timeout:           a.Config.Quotes.Timeout,
		InstrumentMapPath: a.Config.InstrumentMapPath(),
	}
	if token := a.Config.Credentials.Upstox.AccessToken; token != "" {
		dir := a.Config.Dir
		opts.Tokens = quotes.NewStaticTokenSource(token, func() (string, error) {
			cfg, err := config.Load(dir)
			if err != nil {
				return "", err
			}
			return cfg.Credentials.Upstox.AccessToken, nil
		})
	}

	provider, err := quotes.NewProvider(opts, a.Logger)
	if err != nil {
		return nil, err
	}
	return quotes.NewCache(provider, a.Config.Quotes.TTL, a.Config.Quotes.BatchSize, a.Logger,
		quotes.WithMetrics(a.Metrics)), nil
}

// brokerState is the broker and market data one top-level command works on.
// It is fetched fresh for every command.
type brokerState struct {
	broker    broker.Broker
	holdings  []models.Holding
	gtts      []models.GTTOrder
	watchlist *watchlist.Result
	cache     *quotes.Cache
}

// loadState fetches holdings and GTTs, optionally the watchlist, and
// refreshes a price cache covering all of them.
func (a *App) loadState(ctx context.Context, withWatchlist bool) (*brokerState, error) {
	b, err := a.Broker()
	if err != nil {
		return nil, err
	}
	if !b.IsAuthenticated() {
		if err := b.Login(ctx); err != nil {
			return nil, err
		}
	}

	st := &brokerState{broker: b}
	if st.holdings, err = b.GetHoldings(ctx); err != nil {
		return nil, fmt.Errorf("fetching holdings: %w", err)
	}
	if st.gtts, err = b.GetGTTs(ctx); err != nil {
		return nil, fmt.Errorf("fetching GTTs: %w", err)
	}
	if withWatchlist {
		if st.watchlist, err = watchlist.Load(a.Config.WatchlistPath(), a.Logger); err != nil {
			return nil, err
		}
	}

	if st.cache, err = a.NewCache(); err != nil {
		return nil, err
	}
	req := quotes.RefreshRequest{Holdings: st.holdings, GTTs: st.gtts}
	if st.watchlist != nil {
		req.Watchlist = st.watchlist.Entries
	}
	if _, err := st.cache.Refresh(ctx, req); err != nil {
		return nil, err
	}
	return st, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("gtt v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.Config.Dir})
			}
			output.Println(app.Config.Dir)
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Files")
	output.Printf("  Watchlist:       %s\n", cfg.WatchlistPath())
	output.Printf("  Instrument map:  %s\n", cfg.InstrumentMapPath())
	output.Printf("  Database:        %s\n", cfg.DatabasePath())
	output.Println()

	output.Bold("Quotes")
	output.Printf("  Provider:        %s\n", cfg.Quotes.Provider)
	output.Printf("  TTL:             %s\n", cfg.Quotes.TTL)
	output.Printf("  Batch size:      %d\n", cfg.Quotes.BatchSize)
	output.Println()

	output.Bold("Planning")
	output.Printf("  Price cap:       %.3f\n", cfg.Planner.PriceCapFactor)
	output.Printf("  Dry run:         %v\n", cfg.Sync.DryRun)
	output.Printf("  Timezone:        %s\n", cfg.Sync.Timezone)
	output.Println()

	output.Bold("Trend")
	output.Printf("  Threshold:       %.4f\n", cfg.Trend.Threshold)
	output.Printf("  Window:          %d\n", cfg.Trend.Window)
	output.Printf("  Average points:  %d\n", cfg.Trend.AveragePoints)
	output.Println()

	output.Bold("Credentials")
	output.Printf("  Kite:            %s\n", configured(output, cfg.Credentials.Kite.APIKey != ""))
	output.Printf("  Upstox:          %s\n", configured(output, cfg.Credentials.Upstox.AccessToken != ""))
}

func configured(output *Output, ok bool) string {
	if ok {
		return output.Green("configured")
	}
	return output.Yellow("not configured")
}
