package cmd

import (
	"context"
	"fmt"
	"os"

	"headersmanager/api/router/handlers"
	"headersmanager/config"
	"headersmanager/database"
	"headersmanager/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile          string
	dbPath           string // Bound to --dbpath flag
	appLogPathFlag   string
	proxyLogPathFlag string
	logLevelFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "headersmanager",
	Short: "Rewrite HTTP request headers per website",
	Long: `headersmanager keeps a list of websites and header rules, compiles them into
header-rewrite directives and applies those directives to traffic going through its
MITM proxy. Configuration is stored in a synced backend and moves to local storage
when it grows too large.`,
	Version:      handlers.Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(cfgFile, appLogPathFlag, proxyLogPathFlag, logLevelFlag); err != nil {
			return fmt.Errorf("failed to initialize config in PersistentPreRunE: %w", err)
		}

		finalDBPath := config.AppConfig.Database.Path
		if dbPath != "" {
			expandedPath, err := config.ExpandTilde(dbPath)
			if err != nil {
				logger.Error("Error expanding tilde in --dbpath flag '%s': %v. Using original.", dbPath, err)
				expandedPath = dbPath
			}
			finalDBPath = expandedPath
			logger.Info("PersistentPreRunE: Using database path from --dbpath flag: '%s'", finalDBPath)
		}
		if finalDBPath == "" {
			logger.Error("PersistentPreRunE: Database path is empty after checking flag and config! Falling back to 'headersmanager.db' in CWD.")
			finalDBPath = "headersmanager.db"
		}

		if err := database.InitDB(finalDBPath); err != nil {
			return fmt.Errorf("failed to initialize database at %s: %w", finalDBPath, err)
		}
		logger.Debug("Database initialized at: %s", finalDBPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeApplication()
		database.CloseDB()
	},
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/headersmanager/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "dbpath", "", "path to SQLite database file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&appLogPathFlag, "app-log", "", "path for the application log file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&proxyLogPathFlag, "proxy-log", "", "path for the proxy log file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: DEBUG, INFO, ERROR (overrides config/default)")
}
