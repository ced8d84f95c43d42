package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Aman-CERP/amankb/internal/credential"
	"github.com/Aman-CERP/amankb/internal/output"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Store provider API keys in the OS keyring",
		Long: `Store provider API keys in the OS keyring. Configuration only ever
holds a reference to the key, such as keyring:openai or env:OPENAI_API_KEY.

Example:
  amankb secret set openai
  # then in .amankb.yaml:
  #   provider:
  #     api_key_ref: keyring:openai`,
	}

	cmd.AddCommand(newSecretSetCmd())
	cmd.AddCommand(newSecretDeleteCmd())
	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Read a secret from stdin and store it under name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			out := output.New(cmd.OutOrStdout())

			secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if secret == "" {
				return fmt.Errorf("no secret given")
			}

			if err := credential.NewKeyringResolver(credential.KeyringService).Store(name, secret); err != nil {
				return fmt.Errorf("failed to store secret in keyring: %w", err)
			}
			out.Successf("Stored. Reference it as %s", credential.SchemeKeyring+":"+name)
			return nil
		},
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := credential.NewKeyringResolver(credential.KeyringService).Delete(args[0]); err != nil {
				return fmt.Errorf("failed to delete secret: %w", err)
			}
			output.New(cmd.OutOrStdout()).Successf("Deleted %s", args[0])
			return nil
		},
	}
}

// readSecret reads without echo from a terminal, otherwise the first line of in.
func readSecret(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(prompt, "Secret: ")
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
