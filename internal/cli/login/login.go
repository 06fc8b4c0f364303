// Package login holds the `aigate login` subcommands that obtain upstream
// credentials interactively.
package login

import "github.com/spf13/cobra"

// Cmd is the parent `login` command; provider subcommands attach to it.
var Cmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with an upstream provider",
	Long: `Obtain credentials for an OAuth-based provider.

The static-key providers (openai-custom, claude-custom) need no login;
set their API keys in the config file or environment instead.`,
}

var noBrowser bool

func init() {
	Cmd.PersistentFlags().BoolVar(&noBrowser, "no-browser", false, "print the consent URL instead of opening a browser")
}
