package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nodesync/nodesync/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the nodesync configuration file",
		Long: `Load and validate the configuration file without touching the
Registry. Reports the loaded topology so operators can confirm site
and domain ordering.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			fmt.Printf("%s: ok\n", path)
			fmt.Printf("registry: %s\n", cfg.Registry.URL)
			for _, site := range cfg.Sites {
				fmt.Printf("site %s:\n", site.Name)
				for _, domain := range site.Domains {
					fmt.Printf("  domain %s (windows profiles: %d, ssh profiles: %d)\n",
						domain.Name, len(domain.WindowsProfiles), len(domain.SSHProfiles))
				}
			}
			return nil
		},
	}

	return cmd
}
