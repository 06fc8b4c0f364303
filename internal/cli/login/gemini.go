package login

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aigate-dev/aigate/internal/auth/gemini"
	"github.com/aigate-dev/aigate/internal/bootstrap"
	"github.com/aigate-dev/aigate/internal/resilience"
	"github.com/aigate-dev/aigate/internal/upstream"
)

var geminiProject string

var geminiCmd = &cobra.Command{
	Use:   "gemini",
	Short: "Log in with a Google account for the gemini-cli provider",
	Long: `Run the Google OAuth consent flow and save the resulting token to
the gemini CLI credential file (~/.gemini/oauth_creds.json by default).

A Code Assist project is onboarded right after login so the first request
does not pay the discovery round-trips. Use --project to pin one; otherwise
the gateway discovers a project automatically.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := bootstrap.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		if geminiProject != "" {
			cfg.GeminiCLI.ProjectID = geminiProject
		}

		client, err := resilience.NewHTTPClient(cfg.ProxyURL, 0)
		if err != nil {
			return err
		}

		store := gemini.NewStore(cfg.GeminiCLI, client)
		if err := store.Login(cmd.Context(), gemini.LoginOptions{NoBrowser: noBrowser}); err != nil {
			return err
		}

		adapter := upstream.NewGeminiCLI(cfg.GeminiCLI, store, client, resilience.DefaultRetryConfig, cfg.NearWindow())
		if err := adapter.Init(cmd.Context()); err != nil {
			color.Yellow("Login saved, but project onboarding failed: %v", err)
			color.Yellow("The gateway will retry discovery on the first request.")
			return nil
		}
		color.Green("Code Assist project: %s", adapter.ProjectID())
		return nil
	},
}

func init() {
	geminiCmd.Flags().StringVar(&geminiProject, "project", "", "Google Cloud project id to onboard")
	Cmd.AddCommand(geminiCmd)
}
