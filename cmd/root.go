package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/observ/internal/config"
	"github.com/zjrosen/observ/internal/log"
)

const defaultConfigPath = ".observ/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	cfgErr    error
)

var rootCmd = &cobra.Command{
	Use:   "observ",
	Short: "Asynchronous observable/observer event notification",
	Long: `observ is an in-process publish/subscribe engine: Observables fan every
emit out to their callbacks concurrently, Observers track and undo their own
subscriptions, and weak callbacks never keep their owners alive.

The playground command replays YAML scenarios against the engine and checks
the resulting transcript.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgErr != nil {
			return cfgErr
		}
		return setupLogging(cfg, debugFlag || os.Getenv("OBSERV_DEBUG") != "")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .observ/config.yaml, then ~/.config/observ/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also OBSERV_DEBUG)")
}

func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)
	v.SetEnvPrefix("observ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .observ/config.yaml (current directory)
		// 2. ~/.config/observ/config.yaml (user config)
		if _, err := os.Stat(defaultConfigPath); err == nil {
			v.SetConfigFile(defaultConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			v.AddConfigPath(filepath.Join(home, ".config", "observ"))
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config file found anywhere - create default at .observ/config.yaml
			if writeErr := config.WriteDefaultConfig(defaultConfigPath); writeErr == nil {
				v.SetConfigFile(defaultConfigPath)
				_ = v.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		} else {
			cfgErr = fmt.Errorf("reading config: %w", err)
			return
		}
	}

	// Traces default to a file next to the config
	if v.GetString("tracing.file_path") == "" {
		v.Set("tracing.file_path", config.DefaultTracesFilePath(filepath.Dir(configPath())))
	}

	cfg, cfgErr = config.Load(v)
}

// setupLogging sends logs to cfg.Log.Path when enabled or when debug is set.
// Debug forces the debug level.
func setupLogging(cfg config.Config, debug bool) error {
	if !cfg.Log.Enabled && !debug {
		return nil
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	if debug {
		level = log.LevelDebug
	}

	path := cfg.Log.Path
	switch path {
	case "-":
		log.InitWriter(os.Stderr, level)
	case "":
		path = "debug.log"
		fallthrough
	default:
		if _, err := log.Init(path); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
	}
	log.SetMinLevel(level)
	log.Info(log.CatConfig, "observ starting", "version", version, "config", viper.ConfigFileUsed(), "debug", debug)
	return nil
}

// configPath returns the file settings are saved to.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return defaultConfigPath
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
