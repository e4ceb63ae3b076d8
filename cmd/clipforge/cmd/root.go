package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/store"
)

var (
	cfgFile      string
	dbPath       string
	storeType    string
	logLevel     string
	jsonLogs     bool
	outputFormat string
	pricesFile   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "clipforge",
	Short: "CLI for the clipforge video-generation pipeline",
	Long:  `clipforge turns user text into short narrated videos. This CLI submits jobs, runs the pipeline worker and queries run analytics.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.clipforge/config)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default clipforge.db)")
	rootCmd.PersistentFlags().StringVar(&storeType, "store", "sqlite", "store backend: sqlite or memory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&pricesFile, "prices", "", "YAML pricing file (defaults compiled in)")
}

// initConfig reads the .env file, the config file and environment variables
func initConfig() {
	// Local .env first so docker-compose style setups just work
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".clipforge"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CLIPFORGE")
	viper.AutomaticEnv()
	viper.BindEnv("db", "CLIPFORGE_DB")
	viper.BindEnv("store", "CLIPFORGE_STORE")
	viper.BindEnv("prices", "CLIPFORGE_PRICES")

	if err := viper.ReadInConfig(); err == nil {
		if dbPath == "" && viper.GetString("db") != "" {
			dbPath = viper.GetString("db")
		}
		if viper.GetString("store") != "" && !rootCmd.PersistentFlags().Changed("store") {
			storeType = viper.GetString("store")
		}
		if pricesFile == "" && viper.GetString("prices") != "" {
			pricesFile = viper.GetString("prices")
		}
	}

	if dbPath == "" && viper.GetString("db") != "" {
		dbPath = viper.GetString("db")
	}
	if pricesFile == "" && viper.GetString("prices") != "" {
		pricesFile = viper.GetString("prices")
	}
}

// openStore builds the configured store backend
func openStore() (store.Store, error) {
	return store.New(store.Config{Type: storeType, Path: dbPath})
}

// newLogger builds the process logger from the global flags
func newLogger() *logging.Logger {
	return logging.NewLogger(logging.ParseLevel(logLevel), jsonLogs)
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}
