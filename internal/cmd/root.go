package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/boltkit/internal/config"
	"github.com/Iron-Ham/boltkit/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "boltkit",
	Short: "Apply streamed model actions to a sandbox",
	Long: `Boltkit turns a model's streamed response into live file edits and
running processes. Artifacts embedded in the response are parsed as they
arrive and their actions are executed against a local sandbox directory or a
remote execution service.`,
	SilenceUsage: true,
}

// ExitError carries the exit status of a command run through the sandbox.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/boltkit/config.yaml)")
	flags.StringP("workdir", "w", "", "sandbox working directory")
	flags.String("backend", "", "execution backend: local or remote")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("workdir", flags.Lookup("workdir"))
	_ = viper.BindPFlag("backend.kind", flags.Lookup("backend"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("BOLTKIT")
	// e.g., BOLTKIT_REMOTE_BASE_URL for remote.base_url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadConfig returns the validated effective configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the logger described by cfg. Without a log directory
// records are only written when stderr logging is enabled.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if cfg.Logging.Dir == "" && !cfg.Logging.Stderr && !cfg.Logging.Journal {
		return logging.NopLogger(), nil
	}
	return logging.New(logging.Options{
		Dir:     cfg.Logging.Dir,
		Level:   cfg.Logging.Level,
		Stderr:  cfg.Logging.Stderr,
		Journal: cfg.Logging.Journal,
	})
}
