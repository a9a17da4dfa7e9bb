package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "symptom-intake",
		Short: "Symptom intake and condition matching service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(getEnv("CONFIG_FILE", "config.json"))
			if err != nil {
				return err
			}
			applyConfig(cfg)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(matchCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(importCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	app, err := newApp(config)
	if err != nil {
		return err
	}
	defer app.Close()

	e := newServer(app)

	// Graceful shutdown
	go func() {
		addr := ":" + config.Port
		zapLogger.Info("Starting server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	zapLogger.Info("Server stopped")
	return nil
}

func matchCmd() *cobra.Command {
	var explain bool

	cmd := &cobra.Command{
		Use:   "match <symptom-code>...",
		Short: "Match SNOMED CT symptom codes to a protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			matcher := NewConditionMatcher(config.Conditions, config.SymptomNames, config.DefaultProtocolId)

			var result any
			if explain {
				result = matcher.Explain(args)
			} else {
				result = matcher.Match(args)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().BoolVar(&explain, "explain", false, "include every evaluated condition and the reasoning")

	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(config)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runMCPStdio(ctx, app.mcp)
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <bundle.json>",
		Short: "Load FHIR Condition resources into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := NewSQLiteStore(config.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("error opening bundle: %w", err)
			}
			defer f.Close()

			imported, err := ImportBundle(cmd.Context(), store, f)
			if err != nil {
				return err
			}

			total, err := store.CountConditions(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d condition(s), %d stored\n", imported, total)
			return nil
		},
	}
}
