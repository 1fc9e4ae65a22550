package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/internal/config"
)

var v = config.New()

var rootCmd = &cobra.Command{
	Use:   "interpreter",
	Short: "Real-time two-way speech interpreter",
	Long: `interpreter streams microphone audio to a translation service in fixed
segments and prints the translated conversation as it arrives.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("env-file", "", "Path to a .env file")
	rootCmd.PersistentFlags().String("server-url", "", "WebSocket URL of the translation service")
	rootCmd.PersistentFlags().String("auth-secret", "", "Shared secret for signing and validating tokens")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	bindFlag(rootCmd, "server.url", "server-url")
	bindFlag(rootCmd, "auth.secret", "auth-secret")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(devserverCmd)
}

func initConfig() {
	envFile, _ := rootCmd.PersistentFlags().GetString("env-file")
	var paths []string
	if envFile != "" {
		paths = append(paths, envFile)
	}
	if err := config.LoadDotEnv(paths...); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

// bindFlag binds a persistent or local flag of cmd to key
func bindFlag(cmd *cobra.Command, key, flag string) {
	f := cmd.PersistentFlags().Lookup(flag)
	if f == nil {
		f = cmd.Flags().Lookup(flag)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func loadConfig(vp *viper.Viper) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(vp)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	debug, _ := rootCmd.PersistentFlags().GetBool("debug")
	var logger *zap.Logger
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
