package login

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	kiroauth "github.com/aigate-dev/aigate/internal/auth/kiro"
	"github.com/aigate-dev/aigate/internal/bootstrap"
	"github.com/aigate-dev/aigate/internal/resilience"
)

var kiroFile string

var kiroCmd = &cobra.Command{
	Use:   "kiro",
	Short: "Import Kiro SSO credentials for the kiro-api provider",
	Long: `Import an existing Kiro token into ~/.aws/sso/cache/kiro-auth-token.json.

Sign in once with the Kiro desktop app or AWS SSO; this command picks up the
cached token (or the file given with --file), validates it with a refresh
exchange, and persists the result where the gateway looks for it.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := bootstrap.LoadConfig(cfgPath)
		if err != nil {
			return err
		}

		client, err := resilience.NewHTTPClient(cfg.ProxyURL, 0)
		if err != nil {
			return err
		}

		store := kiroauth.NewStore(client)
		if err := store.Import(cmd.Context(), kiroFile); err != nil {
			return err
		}

		rec := store.Snapshot()
		color.Green("Kiro credentials imported and validated.")
		color.Green("Region: %s", store.Region())
		if rec.ExpiresAt != "" {
			color.Green("Access token expires: %s", rec.ExpiresAt)
		}
		return nil
	},
}

func init() {
	kiroCmd.Flags().StringVar(&kiroFile, "file", "", "token file to import (default: merge ~/.aws/sso/cache)")
	Cmd.AddCommand(kiroCmd)
}
