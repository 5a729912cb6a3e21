/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the bookkeeping server and its maintenance jobs.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve              Run the HTTP API and the recurring runner
  process-recurring  Materialize every due recurring occurrence once
  verify             Recompute balances of an owner's books and report drift
  export             Write an owner's backup document
  import             Restore a backup document

GLOBAL FLAGS:
  --config   YAML config file (default: ./bookkeeper.yaml when present)
  --driver   sqlite3 or postgres
  --dsn      Database path or connection string
             Use ":memory:" for an in-memory SQLite database
  --log-level debug, info, warn, error

ENVIRONMENT:
  Every config key can be set as BOOKKEEPER_<SECTION>_<KEY>, for example
  BOOKKEEPER_DATABASE_DSN or BOOKKEEPER_SERVER_PORT.

EXAMPLES:
  bookkeeper serve --dsn ./data/bookkeeper.db
  bookkeeper export --owner alice > alice.json
  bookkeeper import --owner alice-restored alice.json

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqldb/sqldb.go: Database implementation
*/
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/bookkeeper/config"
	"github.com/warp/bookkeeper/ledger"
	"github.com/warp/bookkeeper/logging"
	"github.com/warp/bookkeeper/store/sqldb"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the wired runtime shared by every command.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	db     *sqldb.DB
	ledger *ledger.Ledger
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func newRootCommand() *cobra.Command {
	v := config.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "bookkeeper",
		Short: "Multi-book double-entry bookkeeping server",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml)")
	flags.String("driver", "", "database driver: sqlite3 or postgres")
	flags.String("dsn", "", "database path or connection string")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	// Bound flags override file and environment values only when set.
	_ = v.BindPFlag("database.driver", flags.Lookup("driver"))
	_ = v.BindPFlag("database.dsn", flags.Lookup("dsn"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))

	setup := func() (*app, error) { return newApp(v, cfgFile) }

	rootCmd.AddCommand(
		newServeCommand(v, setup),
		newProcessRecurringCommand(setup),
		newVerifyCommand(setup),
		newExportCommand(setup),
		newImportCommand(setup),
	)
	return rootCmd
}

func newApp(v *viper.Viper, cfgFile string) (*app, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Server.Mode, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	db, err := sqldb.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to initialize database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
		return nil, err
	}
	logger.Debug("database ready", zap.String("driver", cfg.Database.Driver))
	return &app{cfg: cfg, logger: logger, db: db, ledger: ledger.New(db, logger)}, nil
}
