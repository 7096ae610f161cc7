package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret [secret]",
	Short: "Generate a SHA256 hash of a signing secret",
	Long: `Generate a SHA256 hex digest of a secret, for operators verifying
a GATEKEEPER_SECRET value before wiring it into a secrets manager.

Example:
  gatekeeper hash-secret "my-signing-secret"

Security note: the secret will appear in shell history. Consider
clearing history after use or reading it from an environment variable:
  gatekeeper hash-secret "$GATEKEEPER_SECRET"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sum := sha256.Sum256([]byte(args[0]))
		fmt.Println(hex.EncodeToString(sum[:]))
	},
}

func init() {
	rootCmd.AddCommand(hashSecretCmd)
}
