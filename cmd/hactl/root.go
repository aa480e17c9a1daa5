package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgFile string
	logger  = zap.NewNop().Sugar()
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hactl",
		Short: "Inspect and operate HA database clusters coordinated through etcd",
		Long: `hactl reads the cluster state that HA database nodes publish in etcd
	and drives manual failovers between them.`,
		SilenceUsage: true,
	}

	viper, err := SetupViper(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up configuration: %v\n", err)
		os.Exit(1)
	}

	cmd.PersistentPreRunE = initializeLogging(viper)
	cmd.AddCommand(
		newVersionCommand(),
		newListCommand(viper),
		newMembersCommand(viper),
		newFailoverCommand(viper),
		newConfigureCommand(viper),
		newMonitorCommand(viper),
	)

	return cmd
}

// initializeLogging loads the config file and sets up the logger from it
func initializeLogging(viper *viper.Viper) func(*cobra.Command, []string) error {
	return func(c *cobra.Command, s []string) error {
		LoadOptions(viper)

		level := viper.GetString("log-level")
		format := viper.GetString("log-format")

		var config zap.Config
		if format == "console" {
			config = zap.NewDevelopmentConfig()
		} else {
			config = zap.NewProductionConfig()
		}

		config.Level = zap.NewAtomicLevelAt(parseLogLevel(level))
		// stdout carries command output
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}

		baseLogger, err := config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		logger = baseLogger.Sugar()
		return nil
	}
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
