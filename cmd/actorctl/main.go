// Package main is the entry point for actorctl, a small CLI that exercises
// a rivetkit Client against a control-plane endpoint: invoke a single
// action, or watch events published on a session.
//
// Startup sequence mirrors teacher/agent/cmd/agent/main.go: parse
// flags/env, build a zap logger, construct the client, run the requested
// subcommand, then tear down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rivet-dev/rivetkit"
	"github.com/rivet-dev/rivetkit/protocol"
)

var (
	version = "dev"
)

type config struct {
	endpoint string
	token    string
	actor    string
	key      string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "actorctl",
		Short: "actorctl — exercise a rivetkit actor client from the command line",
	}

	root.PersistentFlags().StringVar(&cfg.endpoint, "endpoint", envOrDefault("RIVETKIT_ENDPOINT", "http://localhost:6420"), "Control-plane endpoint")
	root.PersistentFlags().StringVar(&cfg.token, "token", envOrDefault("RIVETKIT_TOKEN", ""), "Bearer token sent with every request")
	root.PersistentFlags().StringVar(&cfg.actor, "actor", envOrDefault("RIVETKIT_ACTOR", ""), "Actor name")
	root.PersistentFlags().StringVar(&cfg.key, "key", "", "Actor key (comma-separated)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("RIVETKIT_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newActionCmd(cfg))
	root.AddCommand(newWatchCmd(cfg))

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("actorctl %s\n", version)
		},
	}
}

func newActionCmd(cfg *config) *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "action <name>",
		Short: "Invoke a single action against the actor and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			logger, err := buildLogger(cfg.logLevel)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var args []any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return fmt.Errorf("invalid --args JSON: %w", err)
				}
			}

			client := rivetkit.New(cfg.endpoint, rivetkit.WithToken(cfg.token), rivetkit.WithLogger(logger))
			defer client.Close()

			key, err := parseKey(cfg.key)
			if err != nil {
				return err
			}

			handle := client.Get(cfg.actor, key, rivetkit.GetOptions{})
			output, err := handle.Action(ctx, posArgs[0], args)
			if err != nil {
				return fmt.Errorf("action failed: %w", err)
			}

			encoded, err := json.MarshalIndent(output, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "[]", "Action arguments, as a JSON array")
	return cmd
}

func newWatchCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <event>",
		Short: "Open a persistent session and print every occurrence of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			logger, err := buildLogger(cfg.logLevel)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client := rivetkit.New(cfg.endpoint, rivetkit.WithToken(cfg.token), rivetkit.WithLogger(logger))
			defer client.Close()

			key, err := parseKey(cfg.key)
			if err != nil {
				return err
			}

			handle := client.Get(cfg.actor, key, rivetkit.GetOptions{})
			conn := handle.Connect()
			defer conn.Disconnect()

			conn.OnEvent(posArgs[0], func(args []any) {
				encoded, _ := json.Marshal(args)
				fmt.Println(string(encoded))
			})

			logger.Info("watching for events", zap.String("event", posArgs[0]))

			<-ctx.Done()
			return nil
		},
	}
	return cmd
}

func parseKey(raw string) (protocol.ActorKey, error) {
	if raw == "" {
		return protocol.NewActorKey()
	}
	var parts []string
	start := 0
	for i, r := range raw {
		if r == ',' {
			parts = append(parts, raw[start:i])
			start = i + 1
		}
	}
	parts = append(parts, raw[start:])
	return protocol.NewActorKey(parts...)
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
