// Package cli defines the aigate command tree: serve, login, usage and
// version.
package cli

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aigate-dev/aigate/internal/cli/login"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aigate",
	Short: "Local gateway translating between OpenAI, Gemini and Claude APIs",
	Long: `aigate is a local HTTP gateway that exposes OpenAI-, Gemini- and
Claude-shaped chat endpoints and forwards the traffic to whichever upstream
account is configured: a personal Google account (gemini-cli), any
OpenAI-compatible endpoint, an Anthropic-compatible endpoint, or Kiro
(AWS CodeWhisperer). Requests and streams are translated between the three
wire formats on the fly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml, then ~/.aigate/config.yaml)")
	rootCmd.AddCommand(login.Cmd)
}
