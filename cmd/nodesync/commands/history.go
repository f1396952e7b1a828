package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		hostname string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent provisioning attempts",
		Long: `List recent provisioning attempts from the local history database,
newest first.`,
		Example: `  # Last 50 attempts across all nodes
  nodesync history

  # Attempts for one node
  nodesync history --hostname web01.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, buildVersion)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if a.history == nil {
				return fmt.Errorf("no history database configured; set history.path")
			}

			recs, err := a.history.List(ctx, hostname, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tHOSTNAME\tOS\tOUTCOME\tNODE\tCREATED\tREPLAYED\tSCAN\tERROR")
			for _, rec := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\t%t\t%d\t%s\n",
					rec.At.Format(time.RFC3339),
					rec.Hostname,
					rec.OS,
					rec.Outcome,
					rec.NodeID,
					rec.Created,
					rec.Replayed,
					rec.ScanJobID,
					rec.Error,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&hostname, "hostname", "", "filter by hostname")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of rows")

	return cmd
}
