// Command idcache publishes administrative invalidation events to a running
// identity-cache cluster over its Redis channel.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	ic "github.com/huykn/identity-cache"
	"github.com/huykn/identity-cache/storage"
	"github.com/huykn/identity-cache/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "idcache",
		Short:         "Administer an identity-cache cluster",
		Long:          "idcache publishes invalidation events to every cache node subscribed to the cluster's Redis channel.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("redis-addr", "localhost:6379", "Redis server address")
	root.PersistentFlags().String("redis-password", "", "Redis password")
	root.PersistentFlags().Int("redis-db", 0, "Redis database number")
	root.PersistentFlags().String("channel", "identity-cache:invalidate", "invalidation pub/sub channel")
	root.PersistentFlags().Bool("verbose", false, "enable debug logging")

	v.BindPFlag("redis_addr", root.PersistentFlags().Lookup("redis-addr"))
	v.BindPFlag("redis_password", root.PersistentFlags().Lookup("redis-password"))
	v.BindPFlag("redis_db", root.PersistentFlags().Lookup("redis-db"))
	v.BindPFlag("channel", root.PersistentFlags().Lookup("channel"))
	v.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))
	v.SetEnvPrefix("IDCACHE")
	v.AutomaticEnv()

	root.AddCommand(newClearCmd(v))
	root.AddCommand(newEvictRealmCmd(v))
	root.AddCommand(newEvictUserCmd(v))
	root.AddCommand(newVersionCmd())
	return root
}

func newClearCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the cache on every node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return publish(v, types.ClearAllEvent{})
		},
	}
}

func newEvictRealmCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "evict-realm <realm-id>",
		Short: "Evict every cached entry of one realm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return publish(v, types.RealmInvalidationEvent{RealmID: args[0]})
		},
	}
}

func newEvictUserCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evict-user <realm-id> <user-id>",
		Short: "Evict one user's cached entries",
		Long: "Evicts the user's primary entry and username/email indexes. " +
			"Pass --username and --email so the secondary indexes can be addressed; " +
			"without them only revision-guarded lookups notice the eviction.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			email, _ := cmd.Flags().GetString("email")
			return publish(v, types.FieldUpdateEvent{
				RealmID:  args[0],
				UserID:   args[1],
				Username: username,
				Email:    email,
			})
		},
	}
	cmd.Flags().String("username", "", "the user's current username")
	cmd.Flags().String("email", "", "the user's current email")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the idcache version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(ic.Version)
		},
	}
}

// publish connects to Redis, sends one event on the invalidation channel and
// disconnects. The sender id is empty so every node, including the one the
// admin may be colocated with, applies the event.
func publish(v *viper.Viper, event types.InvalidationEvent) error {
	logger := newLogger(v.GetBool("verbose"))
	defer logger.Sync()

	client, err := storage.NewRedisClient(v.GetString("redis_addr"), v.GetString("redis_password"), v.GetInt("redis_db"))
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer client.Close()

	data, err := storage.EncodeEvent("", event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := v.GetString("channel")
	receivers, err := client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	logger.Info("published invalidation event",
		zap.String("kind", string(event.Kind())),
		zap.String("channel", channel),
		zap.Int64("receivers", receivers))
	if receivers == 0 {
		logger.Warn("no subscribers on channel, is the cluster running?",
			zap.String("channel", channel))
	}
	return nil
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
