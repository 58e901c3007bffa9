package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/solatis/crawlgate/internal/core/config"
	"github.com/solatis/crawlgate/internal/core/db"
	"github.com/solatis/crawlgate/internal/core/logging"
)

// Version is the crawlgate release.
const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "crawlgate",
	Short:         "crawlgate crawler pricing rule engine",
	Long:          `crawlgate evaluates publisher pricing rules against crawler requests and returns access and pricing decisions.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...), defaults to CG_DB_URL or sqlite in data_dir")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration, letting the named command flags override
// their config keys.
func loadConfig(cmd *cobra.Command, keys map[string]string) (*config.Config, error) {
	var bindings []config.FlagBinding
	for flag, key := range keys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			bindings = append(bindings, config.FlagBinding{Key: key, Flag: f})
		}
	}
	cfg, err := config.LoadConfig(configFile, bindings...)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) (zerolog.Logger, error) {
	return logging.New(cmd.ErrOrStderr(), logLevel, logFormat)
}

// resolveDBURL picks --db-url, then CG_DB_URL, then a sqlite file in data_dir.
func resolveDBURL(cfg *config.Config) string {
	if dbURL != "" {
		return dbURL
	}
	if v := os.Getenv("CG_DB_URL"); v != "" {
		return v
	}
	return "sqlite://" + filepath.Join(cfg.Server.DataDir, "crawlgate.db")
}

// openDatabase opens the database, applies pending migrations and loads the
// named queries.
func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*sqlx.DB, *db.Queries, error) {
	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "create data dir")
	}

	database, err := db.Open(ctx, resolveDBURL(cfg))
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.MigrateUp(ctx, database, logger); err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	return database, queries, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
