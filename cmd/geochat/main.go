package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Parth354/COT-Geospatial/internal/app"
	"github.com/Parth354/COT-Geospatial/internal/config"
	"github.com/Parth354/COT-Geospatial/internal/mockbackend"
)

var (
	configPath string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "geochat",
		Short: "Chat-driven client for the geospatial analysis backend",
		Long: `geochat talks to a geospatial analysis backend: upload datasets, ask
natural-language questions, watch the agent's reasoning stream in and manage
the resulting map layers.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.Debug = cfg.Debug || debug
			return runChat(cmd.Context(), app.New(cfg, logger))
		},
	}

	var mockAddr string
	mockCmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a local backend simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			srv := mockbackend.NewServer(logger)
			logger.Info("mock backend listening", "addr", mockAddr)
			return http.ListenAndServe(mockAddr, srv.Router())
		},
	}
	mockCmd.Flags().StringVar(&mockAddr, "addr", ":8000", "listen address")

	rootCmd.AddCommand(chatCmd, mockCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}
