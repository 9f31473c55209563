package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-lease/v1/lock"
	"github.com/mirkobrombin/go-lease/v1/presets"
)

var (
	rootCmd = &cobra.Command{
		Use:               "leasectl",
		Short:             "Manage leases on a file or Redis backend",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: teardown,
	}

	locker   *lock.Locker
	client   *redis.Client
	shutdown func(context.Context) error
)

func init() {
	cobra.OnInitialize(initConfig)

	f := rootCmd.PersistentFlags()
	f.String("backend", "file", "lock backend (file, redis)")
	f.String("file", "leases.json", "lock file used by the file backend")
	f.String("state-dir", "state", "document directory used by the file backend")
	f.String("redis-addr", "localhost:6379", "Redis address")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database")
	f.String("table", lock.DefaultTable, "key prefix of lease items in Redis")
	f.String("hash-key", lock.DefaultHashKey, "item attribute holding the resource path in Redis")
	f.String("log-level", "warn", "log level (debug, info, warn, error)")
	f.Bool("trace", false, "print OpenTelemetry spans to stdout")

	rootCmd.AddCommand(acquireCmd, releaseCmd, forceReleaseCmd, extendCmd, infoCmd, statusCmd, stateCmd)
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("lease")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setup(cmd *cobra.Command, _ []string) error {
	client, shutdown = nil, nil
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	opts := []lock.Option{lock.WithLogger(logger)}
	if viper.GetBool("trace") {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		otel.SetTracerProvider(tp)
		shutdown = tp.Shutdown
		opts = append(opts, lock.WithTracing())
	}

	switch backend := viper.GetString("backend"); backend {
	case "file":
		l, err := presets.NewFile(viper.GetString("file"), opts...)
		if err != nil {
			return err
		}
		locker = l
	case "redis":
		client = redisOptions().Client()
		b := lock.NewRedisBackend(client,
			lock.WithTable(viper.GetString("table")),
			lock.WithHashKey(viper.GetString("hash-key")),
		)
		locker = lock.New(b, opts...)
	default:
		return fmt.Errorf("invalid backend %q", backend)
	}
	return nil
}

func teardown(cmd *cobra.Command, _ []string) {
	if client != nil {
		_ = client.Close()
	}
	if shutdown != nil {
		_ = shutdown(cmd.Context())
	}
}

func redisOptions() presets.RedisOptions {
	return presets.RedisOptions{
		Addr:     viper.GetString("redis-addr"),
		Password: viper.GetString("redis-password"),
		DB:       viper.GetInt("redis-db"),
		Table:    viper.GetString("table"),
		HashKey:  viper.GetString("hash-key"),
	}
}
