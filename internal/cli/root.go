// Package cli implements the calendar-api command tree.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/config"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/logging"
)

// app carries state resolved by the root command's pre-run hook.
type app struct {
	version string
	loader  *config.Loader
	cfg     *config.Config
	log     zerolog.Logger

	configFile string
	envFile    string
}

func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	a := &app{version: version, loader: config.NewLoader()}

	cmd := &cobra.Command{
		Use:           "calendar-api",
		Short:         "LinkedIn scheduling calendar engine",
		Long:          "calendar-api reconciles scheduled, AI-generated and published posts into a weekly calendar and serves it to the dashboard.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./calendar.yaml or ./config/calendar.yaml)")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before environment overrides (empty disables)")
	flags.String("log-level", "", "override logging level (debug, info, warn, error)")
	flags.String("log-format", "", "override logging format (json, console)")
	flags.String("backend", "", "backend mode (http, postgres)")
	flags.String("timezone", "", "default timezone when a user has none stored")

	v := a.loader.Viper()
	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = v.BindPFlag("backend.mode", flags.Lookup("backend"))
	_ = v.BindPFlag("calendar.default_timezone", flags.Lookup("timezone"))

	cmd.AddCommand(
		newServeCmd(a),
		newWeekCmd(a),
		newCountdownCmd(a),
	)
	return cmd
}

// load reads configuration and initializes the global logger.
func (a *app) load() error {
	if a.configFile != "" {
		a.loader.SetConfigFile(a.configFile)
	}
	a.loader.SetEnvFile(a.envFile)

	cfg, err := a.loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	a.log = logging.Component("calendar-api")
	if used := a.loader.ConfigFileUsed(); used != "" {
		a.log.Debug().Str("config_file", used).Msg("loaded config file")
	}
	return nil
}
