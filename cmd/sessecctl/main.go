package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arklim/session-security/internal/infra/config"
	"github.com/arklim/session-security/internal/infra/security"
)

var (
	subject string
	role    string
	ttl     time.Duration

	rootCmd = &cobra.Command{
		Use:   "sessecctl",
		Short: "Operator tooling for the session security service",
	}
	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issues an HS256 bearer token for the admin security API",
		Long:  `Signs a token with SESSEC_AUTH_JWT_SECRET so operators can call /api/v1/admin/security.`,
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}
	verifyCmd = &cobra.Command{
		Use:   "verify [token]",
		Short: "Verifies a bearer token and prints its subject and roles",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&subject, "subject", "", "user id placed in the sub claim")
	tokenCmd.Flags().StringVar(&role, "role", "admin", "role claim (admin or service_role)")
	tokenCmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(verifyCmd)
}

func newVerifier() (*security.TokenVerifier, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return security.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer), nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	verifier, err := newVerifier()
	if err != nil {
		return err
	}

	token, err := verifier.Sign(subject, role, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	verifier, err := newVerifier()
	if err != nil {
		return err
	}

	claims, err := verifier.Parse(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "subject: %s\n", claims.UserID())
	fmt.Fprintf(out, "roles:   %s\n", strings.Join(claims.AllRoles(), ","))
	if claims.ExpiresAt != nil {
		fmt.Fprintf(out, "expires: %s\n", claims.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
