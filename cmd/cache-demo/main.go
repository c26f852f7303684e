package main

import (
	"fmt"
	"os"

	"github.com/santoshvandari/go-redis-cache/cache"
	"github.com/santoshvandari/go-redis-cache/env"
	"github.com/santoshvandari/go-redis-cache/logger"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cache-demo",
		Short:         "Demo server and tooling for the Redis response cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML configuration file")
	pf.String("log-level", "", "log level: trace, debug, info, warn, error ("+logger.EnvLogLevel+")")
	pf.String("redis-host", "", "Redis hostname ("+env.EnvRedisHost+")")
	pf.String("redis-port", "", "Redis port ("+env.EnvRedisPort+")")
	pf.String("redis-timeout", "", "Redis connect timeout, e.g. 5s ("+env.EnvRedisTimeout+")")
	pf.String("redis-url", "", "Redis URL, overrides host and port ("+env.EnvRedisURL+")")
	pf.String("redis-password", "", "Redis password ("+env.EnvRedisPassword+")")
	pf.String("redis-db", "", "Redis logical database ("+env.EnvRedisDB+")")
	pf.String("redis-prefix", "", "prefix applied to every cache key ("+env.EnvRedisPrefix+")")

	root.AddCommand(newServeCommand(), newClearCommand())
	return root
}

// setup loads the config file and resolves the logger and store configuration.
func setup(cmd *cobra.Command) (*env.File, logger.Logger, cache.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	f, err := env.LoadFile(path)
	if err != nil {
		return nil, nil, cache.Config{}, err
	}
	log := env.NewLogger(cmd, f.LogLevel)
	cfg, err := env.StoreConfig(cmd, f)
	if err != nil {
		return nil, nil, cache.Config{}, err
	}
	return f, log, cfg, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
