package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/DeLi-Labs/deli-app/pkg/sessiontoken"
)

type keygenOutput struct {
	SessionTokenSecret string               `json:"sessionTokenSecret"`
	LocalCipherSecret  string               `json:"localCipherSecret"`
	SessionKeyPair     sessiontoken.KeyPair `json:"sessionKeyPair"`
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print fresh secrets for SESSION_TOKEN_SECRET and LOCAL_CIPHER_SECRET and a sample session key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out keygenOutput
			var err error
			if out.SessionTokenSecret, err = randomHex(sessiontoken.SecretSize); err != nil {
				return err
			}
			if out.LocalCipherSecret, err = randomHex(32); err != nil {
				return err
			}
			if out.SessionKeyPair, err = sessiontoken.GenerateKeyPair(); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
