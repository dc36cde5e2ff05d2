package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironward/crypto"
	"github.com/jmcleod/ironward/internal/util"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new random master key",
	Long: `Print a new 32-byte master key, hex encoded, suitable for
IRONWARD_SECURITY_MASTER_KEY or --master-key.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := util.RandomBytes(crypto.KeySize)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		defer util.WipeBytes(raw)
		fmt.Fprintln(cmd.OutOrStdout(), util.HexEncode(raw))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
