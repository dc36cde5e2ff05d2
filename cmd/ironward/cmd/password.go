package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironward/crypto"
	"github.com/jmcleod/ironward/internal/util"
)

var (
	passwordIterations int
	passwordLength     int
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Password hashing tools",
	Long:  `Commands for hashing, verifying and generating passwords offline.`,
}

var passwordHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Hash a password read from stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
		stored, err := crypto.NewHasher(passwordIterations).Hash(pw, nil)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), stored)
		return nil
	},
}

var errPasswordMismatch = errors.New("password does not match")

var passwordVerifyCmd = &cobra.Command{
	Use:   "verify <salt:hash>",
	Short: "Verify a password read from stdin against a stored hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if !crypto.NewHasher(passwordIterations).Verify(pw, args[0]) {
			return errPasswordMismatch
		}
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
		return nil
	},
}

var passwordGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := crypto.GenerateSecurePassword(passwordLength)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pw)
		return nil
	},
}

// readPassword reads the first line of r.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

func init() {
	rootCmd.AddCommand(passwordCmd)
	passwordCmd.AddCommand(passwordHashCmd, passwordVerifyCmd, passwordGenerateCmd)
	passwordCmd.PersistentFlags().IntVar(&passwordIterations, "iterations", util.DefaultPBKDF2Iterations, "PBKDF2 iteration count")
	passwordGenerateCmd.Flags().IntVarP(&passwordLength, "length", "n", 20, "Password length")
}
