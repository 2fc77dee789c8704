// File: cmd/root.go

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/captcha"
	"github.com/xkilldash9x/visaflow-cli/internal/config"
	"github.com/xkilldash9x/visaflow-cli/internal/flow"
	"github.com/xkilldash9x/visaflow-cli/internal/observability"
	"github.com/xkilldash9x/visaflow-cli/internal/registry"
	"github.com/xkilldash9x/visaflow-cli/pkg/browser"
)

var (
	cfgFile string
	country string

	// appCfg is populated by PersistentPreRunE before any command runs.
	appCfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "visaflow",
	Short:   "Drives visa-portal account registration and login for serviceable countries.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			// A fallback logger so the failure itself is still reported
			// in the usual format.
			observability.InitializeLogger(config.LoggerConfig{
				Level: "info", Format: "console", ServiceName: "visaflow",
			})
			return err
		}
		appCfg = cfg

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting visaflow", zap.String("version", Version))
		return nil
	},
}

// Execute runs the root command. Any failure exits with code 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&country, "country", "c", "", "3-letter country code (default from registry.default_country)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// loadConfig layers defaults, the optional config file, and VISAFLOW_
// environment variables, then validates the result.
func loadConfig() (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)
	config.BindEnv(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file; defaults and environment carry the run.
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveCountry prefers the --country flag over the configured default.
func resolveCountry(cfg *config.Config) string {
	if country != "" {
		return country
	}
	return cfg.Registry.DefaultCountry
}

// appRuntime wires the collaborators a flow command needs. Built fresh per
// invocation; the registry and config are read-only after this point.
type appRuntime struct {
	cfg        *config.Config
	logger     *zap.Logger
	registry   *registry.Registry
	sessions   flow.Sessions
	challenges *captcha.Engine
}

func newAppRuntime() (*appRuntime, error) {
	logger := observability.GetLogger()

	reg, err := registry.New(appCfg.Registry, logger)
	if err != nil {
		return nil, err
	}

	return &appRuntime{
		cfg:        appCfg,
		logger:     logger,
		registry:   reg,
		sessions:   flow.Sessions{Manager: browser.NewManager(appCfg, logger)},
		challenges: captcha.NewEngine(appCfg.Solver, logger.Named("captcha")),
	}, nil
}
