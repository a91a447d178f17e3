package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"deploysync/internal/repository"
)

var (
	credentialsCmd = &cobra.Command{
		Use:   "credentials",
		Short: "Manage remote passwords stored in the OS keyring",
		Long: `Targets with remoteRepo.passwordFromKeyring: true read their password
or token from the OS keyring entry stored under the target name.`,
	}

	credentialsSetCmd = &cobra.Command{
		Use:   "set TARGET",
		Short: "Store the password for TARGET, read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := repository.NewCredentialManager().StorePassword(args[0], secret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored credentials for %s\n", args[0])
			return nil
		},
	}

	credentialsDeleteCmd = &cobra.Command{
		Use:   "delete TARGET",
		Short: "Remove the stored password for TARGET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := repository.NewCredentialManager().DeletePassword(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted credentials for %s\n", args[0])
			return nil
		},
	}

	credentialsStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Report whether the OS keyring is usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(repository.NewCredentialManager().StoreStatus())
		},
	}
)

func init() {
	credentialsCmd.AddCommand(credentialsSetCmd, credentialsDeleteCmd, credentialsStatusCmd)
}

// readSecret reads the first line of r. Piping keeps the secret out of
// shell history and process listings.
func readSecret(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			fmt.Fprint(os.Stderr, "Password: ")
		}
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return secret, nil
}
