package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/datachat-io/datachat/pkg/config"
	"github.com/datachat-io/datachat/pkg/provider/openai"
	"github.com/datachat-io/datachat/pkg/retry"
	"github.com/datachat-io/datachat/pkg/server"
	"github.com/datachat-io/datachat/pkg/store"
	"github.com/datachat-io/datachat/pkg/tools"
	"github.com/datachat-io/datachat/pkg/tools/mcpprovider"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "datachat",
	Short: "Streaming chat server for conversational data analysis",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		setupLogging(cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func buildStore(cfg *config.Config) store.Store {
	if cfg.Store.RedisAddr == "" {
		log.Info().Msg("no redis configured, using in-process content store")
		return store.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	})
	return store.NewRedisStore(client, store.WithRetention(cfg.Store.Retention))
}

func serve(ctx context.Context, cfg *config.Config) error {
	providerOpts := []openai.Option{}
	if cfg.Provider.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(cfg.Provider.APIKey, cfg.Provider.BaseURL))
	}
	p := openai.New(cfg.Provider.APIKey, providerOpts...)

	gatewayOpts := []tools.GatewayOption{}
	if cfg.Tools.MCPEndpoint != "" {
		remote := mcpprovider.New(cfg.Tools.MCPEndpoint)
		defer func() {
			if err := remote.Close(); err != nil {
				log.Warn().Err(err).Msg("closing tool server session")
			}
		}()
		gatewayOpts = append(gatewayOpts, tools.WithRemoteProvider(remote))
	} else {
		log.Warn().Msg("no tool server configured, only synthetic tools are available")
	}
	gateway := tools.NewGateway(tools.NewAccessPolicy(cfg.Tools.AllowedSources), gatewayOpts...)

	srv := server.New(p, gateway, buildStore(cfg),
		server.WithAddr(cfg.Server.Addr),
		server.WithDefaultModel(cfg.Provider.DefaultModel),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		server.WithRetryPolicy(retry.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
		}),
		server.WithTurnTimeout(cfg.Retry.TurnTimeout),
		server.WithMaxTurns(cfg.Retry.MaxTurns),
	)
	return srv.Start(ctx)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
