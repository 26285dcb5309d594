package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/syssam/persist"
	"github.com/syssam/persist/provider"
)

var (
	flagFormat  string
	flagLimit   int
	flagOffset  int
	flagTimeout string
)

var queryCmd = &cobra.Command{
	Use:   "query <name> [params...]",
	Short: "Run a named query and print its rows",
	Long:  "Runs the named query with the given positional parameters. Parameters are passed as strings.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&flagFormat, "format", "text", "output format: text|json")
	queryCmd.Flags().IntVar(&flagLimit, "limit", 0, "maximum number of rows (0 for all)")
	queryCmd.Flags().IntVar(&flagOffset, "offset", 0, "rows to skip")
	queryCmd.Flags().StringVar(&flagTimeout, "timeout", "", "query timeout, e.g. 5s or 1500 (milliseconds)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	if flagFormat != "text" && flagFormat != "json" {
		return fmt.Errorf("invalid format %q: must be text or json", flagFormat)
	}
	return withManager(cmd.Context(), func(ctx context.Context, em *provider.EntityManager) error {
		q, err := provider.CreateQuery[persist.Tuple](em, persist.NewQueryReference[persist.Tuple](args[0], nil))
		if err != nil {
			return err
		}
		for i, p := range args[1:] {
			q.SetParameter(i+1, p)
		}
		if flagOffset > 0 {
			q.SetFirstResult(flagOffset)
		}
		if flagLimit > 0 {
			q.SetMaxResults(flagLimit)
		}
		if flagTimeout != "" {
			q.SetHint(persist.HintQueryTimeout, flagTimeout)
		}
		rows, err := q.ResultList(ctx)
		if err != nil {
			return err
		}
		if flagFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), rows)
		}
		return writeText(cmd.OutOrStdout(), rows)
	})
}

func columns(rows []persist.Tuple) []string {
	if len(rows) == 0 {
		return nil
	}
	elems := rows[0].Elements()
	names := make([]string, len(elems))
	for i, e := range elems {
		if alias, ok := e.Alias(); ok {
			names[i] = alias
		} else {
			names[i] = fmt.Sprintf("col%d", i+1)
		}
	}
	return names
}

func display(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func writeText(w io.Writer, rows []persist.Tuple) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	names := columns(rows)
	for i, n := range names {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, n)
	}
	if len(names) > 0 {
		fmt.Fprintln(tw)
	}
	for _, r := range rows {
		for i, v := range r.Values() {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			if v == nil {
				fmt.Fprint(tw, "NULL")
			} else {
				fmt.Fprint(tw, display(v))
			}
		}
		fmt.Fprintln(tw)
	}
	fmt.Fprintf(tw, "(%d rows)\n", len(rows))
	return tw.Flush()
}

func writeJSON(w io.Writer, rows []persist.Tuple) error {
	names := columns(rows)
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		m := make(map[string]any, len(names))
		for i, v := range r.Values() {
			m[names[i]] = display(v)
		}
		out = append(out, m)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
