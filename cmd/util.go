package cmd

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jrschumacher/wheelcheck/internal/tokenverify"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/spf13/cobra"
)

var utilCmd = &cobra.Command{
	Use:     "util",
	Aliases: []string{"utils"},
	Short:   "Utility commands for wheelcheck",
}

var generateKID string

var utilGenerateJWKCmd = &cobra.Command{
	Use:   "generate-jwk",
	Short: "Generate an ES256 key pair as JWKS files, for local issuers and tests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}

		key, err := jwk.FromRaw(privKey)
		if err != nil {
			return fmt.Errorf("failed to create JWK: %w", err)
		}
		_ = key.Set(jwk.KeyIDKey, generateKID)
		_ = key.Set(jwk.AlgorithmKey, jwa.ES256)
		_ = key.Set(jwk.KeyUsageKey, "sig")

		pubKey, err := key.PublicKey()
		if err != nil {
			return fmt.Errorf("failed to get public key: %w", err)
		}

		if err := writeSet("jwks.public.json", pubKey); err != nil {
			return err
		}
		if err := writeSet("jwks.private.json", key); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "JWKs written to jwks.public.json and jwks.private.json")
		return nil
	},
}

func writeSet(path string, key jwk.Key) error {
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return err
	}
	b, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0600)
}

var utilJWKSCmd = &cobra.Command{
	Use:   "jwks",
	Short: "Fetch the configured issuer's key set and list its keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER is not set")
		}
		url := tokenverify.JWKSURL(cfg.AuthIssuer)

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.JWKSFetchTimeout)
		defer cancel()
		set, err := tokenverify.NewHTTPFetcher(cfg.JWKSFetchTimeout).Fetch(ctx, url)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%d keys)\n", url, set.Len())
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KID\tKTY\tALG\tUSE")
		for i := 0; i < set.Len(); i++ {
			k, ok := set.Key(i)
			if !ok {
				continue
			}
			alg := ""
			if a := k.Algorithm(); a != nil {
				alg = a.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k.KeyID(), k.KeyType(), alg, k.KeyUsage())
		}
		return tw.Flush()
	},
}

func init() {
	utilGenerateJWKCmd.Flags().StringVar(&generateKID, "kid", "wheelcheck-dev-key", "key id to embed in the JWK")

	rootCmd.AddCommand(utilCmd)
	utilCmd.AddCommand(utilGenerateJWKCmd)
	utilCmd.AddCommand(utilJWKSCmd)
}
