package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jrschumacher/wheelcheck/internal/tokenverify"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <token|->",
	Short: "Verify a bearer token against the configured issuer and print its claims",
	Long: `Verify a bearer token with the same rules the API applies and print the
claims as JSON. Pass "-" to read the token from stdin. On rejection the
reason is printed and the command exits non-zero.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]
		if token == "-" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read token: %w", err)
			}
			token = line
		}
		token = strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")

		verifier := tokenverify.NewVerifier(tokenverify.Options{
			Issuer:       cfg.AuthIssuer,
			Audience:     cfg.AuthAudience,
			CacheTTL:     cfg.JWKSCacheTTL,
			FetchTimeout: cfg.JWKSFetchTimeout,
			ClockSkew:    cfg.ClockSkew,
		})
		claims, err := verifier.Verify(cmd.Context(), token)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "rejected: %s\n", tokenverify.ReasonOf(err))
			if cause := errors.Unwrap(err); cause != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "cause: %v\n", cause)
			}
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(claims)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
