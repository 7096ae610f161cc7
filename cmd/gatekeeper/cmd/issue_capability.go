package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/runestone-labs/gatekeeper/internal/domain/canon"
	"github.com/runestone-labs/gatekeeper/internal/domain/capability"
	"github.com/runestone-labs/gatekeeper/internal/gwconfig"
	"github.com/runestone-labs/gatekeeper/internal/service"
)

var (
	issueCapTool      string
	issueCapArgsJSON  string
	issueCapTTL       time.Duration
	issueCapRole      string
	issueCapActorName string
	issueCapSecret    string
)

var issueCapabilityCmd = &cobra.Command{
	Use:   "issue-capability",
	Short: "Mint a capability token for a specific tool call",
	Long: `Mint a capability token that pre-authorizes one exact tool call.
Until the token expires, every request that presents it with matching
tool, arguments, and (if set) actor role or name has an APPROVE decision
upgraded to ALLOW; a DENY decision is not changed. The token is not
consumed on use.

The token is signed with the gateway's configured secret (GATEKEEPER_SECRET
by default, or --secret to override without loading config), so it is only
valid against a gateway sharing that same secret.

Example:
  gatekeeper issue-capability --tool files.write \
    --args '{"path":"/tmp/report.txt","content":"hi"}' --ttl 10m`,
	RunE: runIssueCapability,
}

func init() {
	issueCapabilityCmd.Flags().StringVar(&issueCapTool, "tool", "", "tool name this token authorizes (required)")
	issueCapabilityCmd.Flags().StringVar(&issueCapArgsJSON, "args", "{}", "JSON object of the exact arguments this token authorizes")
	issueCapabilityCmd.Flags().DurationVar(&issueCapTTL, "ttl", 10*time.Minute, "how long the token remains valid")
	issueCapabilityCmd.Flags().StringVar(&issueCapRole, "role", "", "restrict the token to this actor role")
	issueCapabilityCmd.Flags().StringVar(&issueCapActorName, "actor-name", "", "restrict the token to this actor name")
	issueCapabilityCmd.Flags().StringVar(&issueCapSecret, "secret", "", "signing secret (defaults to the configured GATEKEEPER_SECRET)")
	issueCapabilityCmd.MarkFlagRequired("tool")
	rootCmd.AddCommand(issueCapabilityCmd)
}

func runIssueCapability(cmd *cobra.Command, args []string) error {
	var parsedArgs map[string]interface{}
	if err := json.Unmarshal([]byte(issueCapArgsJSON), &parsedArgs); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	secret := issueCapSecret
	if secret == "" {
		cfg, err := gwconfig.Load()
		if err != nil {
			return fmt.Errorf("load config (pass --secret to skip): %w", err)
		}
		secret = cfg.Secret
	}

	capSvc := service.NewCapabilityService(secret)
	argsHash := canon.SHA256Hex(canon.Canonicalize(parsedArgs))
	token, err := capSvc.Issue(capability.Payload{
		Tool:      issueCapTool,
		ArgsHash:  argsHash,
		ExpiresAt: time.Now().Add(issueCapTTL).Unix(),
		ActorRole: issueCapRole,
		ActorName: issueCapActorName,
	})
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}
