package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/santoshvandari/go-redis-cache/cache"
	"github.com/spf13/cobra"
)

func newClearCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached entries",
		Long: `Delete cached entries from Redis.

With --key only that key is removed (prefixed by --namespace when given).
With --namespace only, every key of the namespace is removed.
With neither, the whole cache is flushed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			key, _ := cmd.Flags().GetString("key")
			namespace, _ := cmd.Flags().GetString("namespace")

			handle := cache.Initialize(cmd.Context(), log, cfg)
			if handle == nil {
				return errors.Newf("redis is not reachable at %s", cfg)
			}
			defer handle.Close()

			c := cache.New(log)
			c.SetStore(handle)
			n := c.Clear(cmd.Context(), key, namespace)
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d keys\n", n)
			return nil
		},
	}
	cmd.Flags().String("key", "", "cache key to delete")
	cmd.Flags().String("namespace", "", "namespace to delete, or to prefix --key with")
	return cmd
}
