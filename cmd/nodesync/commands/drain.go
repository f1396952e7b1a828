package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay the offline queue against the Registry",
		Long: `Replay every request queued while the Registry was unreachable.

The queue file is deleted only when the whole batch replays without a
hard error; otherwise it is kept intact and retried wholesale on the
next drain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, buildVersion)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if !a.queue.HasBacklog() {
				fmt.Println("offline queue is empty")
				return nil
			}

			res, err := a.orchestrator.Replay(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("replayed %d of %d entries (%d failed)\n",
				res.Replayed, res.Total, res.Failed)
			if !res.Clean {
				return fmt.Errorf("queue file kept: %d entries failed hard", res.Failed)
			}
			return nil
		},
	}

	return cmd
}
