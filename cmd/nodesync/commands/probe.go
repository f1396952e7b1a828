package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check Registry reachability",
		Long: `Perform the authenticated reachability probe against the Registry.

Exits zero when the Registry answered with an authenticated user
listing; non-zero otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, buildVersion)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if !a.registry.Probe(ctx) {
				return fmt.Errorf("registry %s is unreachable", a.cfg.Registry.URL)
			}
			fmt.Printf("registry %s is reachable\n", a.cfg.Registry.URL)
			return nil
		},
	}

	return cmd
}
