package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nodesync/nodesync/pkg/provision"
	"github.com/nodesync/nodesync/pkg/report"
)

func newProcessCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <run-record>",
		Short: "Process one completed-run record against the Registry",
		Long: `Process a completed-run record dropped by the configuration
management report hook.

The record's status is checked against the configured run states,
facts for the host are fetched from the fact database, and the node is
provisioned in the Registry (or queued offline when the Registry is
unreachable).`,
		Example: `  # Process a run record written by the report hook
  nodesync process /var/spool/nodesync/web01.example.com.json

  # Read the record from stdin
  report-hook | nodesync process -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, buildVersion)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			var run *report.Run
			if args[0] == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read run record from stdin: %w", err)
				}
				run, err = report.Parse(data)
				if err != nil {
					return err
				}
			} else {
				run, err = report.ParseFile(args[0])
				if err != nil {
					return err
				}
			}

			outcome, err := processRun(ctx, a, run)
			if err != nil {
				return err
			}
			if outcome != "" {
				fmt.Printf("%s: %s\n", run.Host, outcome)
			}
			return nil
		},
	}

	return cmd
}

// processRun applies the run-state and ignore filters, resolves facts
// and provisions the node. An empty outcome means the record was
// filtered out.
func processRun(ctx context.Context, a *app, run *report.Run) (provision.Outcome, error) {
	logger := a.logger.With().Str("hostname", run.Host).Logger()

	if !report.ShouldProcess(run.Status, a.cfg.Provision.TestMode) {
		logger.Debug().Str("status", run.Status).Msg("run status does not warrant provisioning")
		return "", nil
	}
	if report.IgnoredHost(run.Host, a.cfg.Provision.IgnoreHostnameSubstring) {
		logger.Debug().Msg("hostname matches ignore filter, skipping")
		return "", nil
	}

	var osName, role, environment, datacenter string
	if a.facts != nil {
		nf, err := a.facts.NodeFacts(ctx, run.Host)
		if err != nil {
			logger.Warn().Err(err).Msg("fact lookup failed, provisioning with defaults")
		} else {
			osName = nf.OS
			role = nf.Role
			environment = nf.Environment
			datacenter = nf.Datacenter
		}
	}

	hostname := run.Host
	if a.cfg.Provision.TestMode && a.cfg.Fixtures.NodeName != "" {
		hostname = a.cfg.Fixtures.NodeName
	}

	req, err := provision.NewRequest(hostname, osName, role, environment, datacenter,
		report.ChangeTag(run.Logs))
	if err != nil {
		return "", err
	}

	return a.orchestrator.Provision(ctx, req)
}
