package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ironward",
	Short: "IronWard is a client security core",
	Long: `Encrypted storage, login rate limiting, sessions and CSRF protection
behind a small authentication API.
Complete documentation is available at https://github.com/jmcleod/ironward`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a config file (YAML, JSON or TOML)")
}
