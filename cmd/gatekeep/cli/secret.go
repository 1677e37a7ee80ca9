package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatekeepdb/gatekeep/internal/config"
	"github.com/gatekeepdb/gatekeep/internal/secret"
)

// secretPasswordKey is read from GATEKEEP_SECRET_PASSWORD when --password
// is not given.
const secretPasswordKey = "secret.password"

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Encrypt and decrypt values with a password",
		Long: `Seal a value (such as a database DSN) in a password-protected envelope, or
open one. The envelope is JSON with data_ciphertext and encryption_meta.`,
	}

	cmd.AddCommand(newSecretEncryptCmd())
	cmd.AddCommand(newSecretDecryptCmd())

	return cmd
}

// ---------- secret encrypt ----------

func newSecretEncryptCmd() *cobra.Command {
	var (
		kdfName  string
		password string
		input    string
	)

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt stdin (or --in) into an envelope on stdout",
		Example: `  echo -n 'postgres://u:p@db/app' | gatekeep secret encrypt > dsn.json
  gatekeep secret encrypt --kdf argon2id --in dsn.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kdf, err := secret.KDFByName(kdfName)
			if err != nil {
				return err
			}
			plaintext, err := readInput(input)
			if err != nil {
				return err
			}
			pw, err := secretPassword(password, true)
			if err != nil {
				return err
			}
			env, err := secret.Encrypt(plaintext, pw, kdf)
			if err != nil {
				return err
			}
			return printJSON(env)
		},
	}

	cmd.Flags().StringVar(&kdfName, "kdf", "pbkdf2", "Key derivation: pbkdf2 or argon2id")
	cmd.Flags().StringVar(&password, "password", "", "Password (default: GATEKEEP_SECRET_PASSWORD or prompt)")
	cmd.Flags().StringVar(&input, "in", "", "Read plaintext from file instead of stdin")

	return cmd
}

// ---------- secret decrypt ----------

func newSecretDecryptCmd() *cobra.Command {
	var (
		password string
		input    string
	)

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt an envelope from stdin (or --in) to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(input)
			if err != nil {
				return err
			}
			var env secret.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				return fmt.Errorf("parse envelope: %w", err)
			}
			pw, err := secretPassword(password, false)
			if err != nil {
				return err
			}
			plaintext, err := secret.Decrypt(env, pw)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(plaintext)
			return err
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password (default: GATEKEEP_SECRET_PASSWORD or prompt)")
	cmd.Flags().StringVar(&input, "in", "", "Read the envelope from file instead of stdin")

	return cmd
}

func readInput(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(os.Stdin)
}

func secretPassword(flag string, confirm bool) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if pw := config.NewViper().GetString(secretPasswordKey); pw != "" {
		return pw, nil
	}
	return readSecret("Password", confirm)
}
