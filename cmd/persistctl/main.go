// persistctl checks persistence units and runs their named queries.
package main

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/syssam/persist"
	"github.com/syssam/persist/provider"
	"github.com/syssam/persist/unit"
)

var (
	flagUnit    string
	flagVerbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "persistctl",
	Short:         "Inspect persistence units",
	Long:          "persistctl validates unit files, checks their data sources and runs their named queries.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagUnit, "unit", "u", "unit.yaml", "path of the unit file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log statements to stderr")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(queriesCmd)
	rootCmd.AddCommand(queryCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate the unit file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		u, err := unit.Load(flagUnit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unit %s: %s, %v transactions, %d named queries\n",
			u.Name, u.Dialect, u.TransactionType, len(u.Queries()))
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the unit's data source answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, em *provider.EntityManager) error {
			start := time.Now()
			err := provider.RunWithConnection(ctx, em, func(ctx context.Context, conn *stdsql.Conn) error {
				var one int
				return conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok (%s)\n", time.Since(start).Round(time.Microsecond))
			return nil
		})
	},
}

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "List the named queries of the unit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		u, err := unit.Load(flagUnit)
		if err != nil {
			return err
		}
		for _, q := range u.Queries() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", q.Name, q.Query)
		}
		return nil
	},
}

// withManager opens the unit, runs fn with a synchronized entity manager
// and closes both.
func withManager(ctx context.Context, fn func(context.Context, *provider.EntityManager) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	u, err := unit.Load(flagUnit)
	if err != nil {
		return err
	}
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	f, err := provider.Open(ctx, u, provider.WithLogger(log))
	if err != nil {
		return err
	}
	defer f.Close()
	em, err := f.CreateEntityManager(persist.Synchronized)
	if err != nil {
		return err
	}
	defer em.Close()
	return fn(ctx, em)
}
