package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/denidin/internal/appctx"
	"github.com/local/denidin/internal/config"
	"github.com/local/denidin/internal/denerr"
	"github.com/local/denidin/internal/transport"
)

const version = "0.1.0"

func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "denidin",
		Short: "DeniDin — a WhatsApp assistant with RBAC and long-term memory",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to the configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("denidin v%s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the WhatsApp gateway, pipeline, and lifecycle worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			initLogging(cfg.LogLevel)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			app, err := appctx.Build(ctx, cfg)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}

			runErr := make(chan error, 1)
			go func() { runErr <- app.Run(ctx) }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
				log.Info().Msg("denidin: received shutdown signal")
				cancel()
				<-runErr
			case err := <-runErr:
				if err != nil {
					return fmt.Errorf("run: %w", err)
				}
			}
			return nil
		},
	})

	onboardCmd := &cobra.Command{
		Use:   "onboard",
		Short: "Onboard a transport",
	}
	onboardCmd.AddCommand(&cobra.Command{
		Use:   "whatsapp",
		Short: "Pair with WhatsApp by scanning a QR code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			initLogging(cfg.LogLevel)
			if err := transport.SetupWhatsApp(cfg.WhatsApp.DBPath); err != nil {
				return fmt.Errorf("whatsapp setup: %w", err)
			}
			fmt.Println("WhatsApp pairing complete. Run `denidin serve` to start the gateway.")
			return nil
		},
	})
	rootCmd.AddCommand(onboardCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file without starting the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(configPath); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			fmt.Println("configuration is valid")
			return nil
		},
	})
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

// initLogging wires zerolog's global logger the way the rest of this
// repository logs, turning the configured log_level (spec.md §6, one of
// INFO or DEBUG) into zerolog's equivalent level.
func initLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	lvl := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if denerr.Is(err, denerr.KindConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
