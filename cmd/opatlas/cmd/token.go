package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opatlas/opatlas/pkg/auth"
	"github.com/opatlas/opatlas/pkg/config"
)

var (
	tokenUserID    string
	tokenName      string
	tokenEmail     string
	tokenWorkspace string
	tokenRole      string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session token for API access",
	Long: `Mint a signed session token using the configured auth secret. The
token grants the given role in the given workspace and is presented
to the API as a Bearer token.`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "1", "User id embedded in the token")
	tokenCmd.Flags().StringVar(&tokenName, "name", "Demo User", "Display name embedded in the token")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "demo@opatlas.com", "Email embedded in the token")
	tokenCmd.Flags().StringVar(&tokenWorkspace, "workspace", "1", "Workspace id the token is scoped to")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleOwner), "Workspace role (owner, editor, viewer)")
}

func runToken(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.Auth.Enabled {
		return fmt.Errorf("auth is disabled; enable auth and set auth.secret_key to mint tokens")
	}

	switch auth.Role(tokenRole) {
	case auth.RoleOwner, auth.RoleEditor, auth.RoleViewer:
	default:
		return fmt.Errorf("unknown role %q", tokenRole)
	}

	sessions := auth.NewManager(log, cfg.Auth)

	token, err := sessions.Issue(auth.Session{
		UserID:      tokenUserID,
		Name:        tokenName,
		Email:       tokenEmail,
		WorkspaceID: tokenWorkspace,
		Role:        auth.Role(tokenRole),
	})
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	fmt.Println(token)

	return nil
}
