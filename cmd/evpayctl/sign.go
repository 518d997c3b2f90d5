package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"evshop-payment/internal/gateway"

	"github.com/spf13/cobra"
)

// hashFields are never part of the signed data
var hashFields = map[string]bool{
	"vnp_SecureHash":     true,
	"vnp_SecureHashType": true,
	"signature":          true,
}

func signCmd() *cobra.Command {
	var (
		secret   string
		encoding string
		algo     string
		expected string
	)

	cmd := &cobra.Command{
		Use:   "sign-debug [query-or-url]",
		Short: "Print the canonical string and HMAC for a provider query",
		Long: `Rebuilds the string a provider signs and the HMAC over it, to compare
against a signature from a sandbox callback.

Examples:
  evpayctl sign-debug 'vnp_Amount=100000&vnp_TxnRef=EV1' --secret S
  evpayctl sign-debug 'https://shop/return?vnp_Amount=1&vnp_SecureHash=ab' --secret S --encoding percent`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			values, err := parseQuery(args[0])
			if err != nil {
				return err
			}
			if expected == "" {
				expected = values.Get("vnp_SecureHash")
			}
			return printSignature(cmd.OutOrStdout(), values, secret, gateway.ParseEncoding(encoding), algo, expected)
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret")
	cmd.Flags().StringVar(&encoding, "encoding", "query", "value encoding: raw, query or percent")
	cmd.Flags().StringVar(&algo, "algo", "sha512", "sha512 or sha256")
	cmd.Flags().StringVar(&expected, "expect", "", "signature to compare against")
	return cmd
}

func parseQuery(raw string) (url.Values, error) {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	return values, nil
}

func printSignature(w io.Writer, values url.Values, secret string, enc gateway.Encoding, algo, expected string) error {
	fields := make(map[string]string, len(values))
	for k := range values {
		if hashFields[k] {
			continue
		}
		fields[k] = values.Get(k)
	}
	data := gateway.CanonicalQuery(fields, enc)

	var sig string
	switch algo {
	case "sha512":
		sig = gateway.HMACSHA512(secret, data)
	case "sha256":
		sig = gateway.HMACSHA256(secret, data)
	default:
		return fmt.Errorf("unknown algo %q", algo)
	}

	fmt.Fprintf(w, "canonical: %s\n", data)
	fmt.Fprintf(w, "signature: %s\n", sig)
	if expected != "" {
		fmt.Fprintf(w, "matches:   %t\n", gateway.SignatureEqual(sig, expected))
	}
	return nil
}
