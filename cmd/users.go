package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"argus/util"

	"github.com/spf13/cobra"
)

// NewUsersCmd creates the root users command with all subcommands.
func NewUsersCmd() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage API login credentials",
		Long: `Helpers for the static user accounts in the auth section of the config.

Accounts are plain config entries; these commands only produce the
bcrypt hashes to paste into them.`,
	}

	addCommonFlags(usersCmd)

	usersCmd.AddCommand(newUsersHashPasswordCmd())

	return usersCmd
}

// hashPasswordOutput is the JSON shape for 'users hash-password'
type hashPasswordOutput struct {
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	PasswordHash string `json:"password_hash"`
}

// newUsersHashPasswordCmd creates the 'hash-password' subcommand
func newUsersHashPasswordCmd() *cobra.Command {
	var (
		username string
		password string
		generate bool
		length   int
	)

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password for the auth config",
		Long: `Produce a bcrypt hash for an API login account.

The password comes from --password, from --generate, or from an
interactive prompt. Note that --password leaves the cleartext in your
shell history; prefer the prompt or --generate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			switch {
			case generate:
				password, err = util.GeneratePassword(length)
				if err != nil {
					return fmt.Errorf("failed to generate password: %w", err)
				}
			case password == "":
				password, err = promptPassword()
				if err != nil {
					return err
				}
			}

			if err := util.ValidatePassword(password); err != nil {
				return err
			}

			hash, err := util.HashPassword(password)
			if err != nil {
				return err
			}

			if outputJSON {
				out := hashPasswordOutput{Username: username, PasswordHash: hash}
				if generate {
					out.Password = password
				}
				return outputAsJSON(out)
			}

			if generate {
				successColor.Printf("Generated password: %s\n", password)
			}
			fmt.Printf("Password hash: %s\n", hash)

			if username != "" {
				fmt.Println("\nConfig snippet:")
				infoColor.Println("auth:")
				infoColor.Println("  users:")
				infoColor.Printf("    - username: %s\n", username)
				infoColor.Printf("      password_hash: \"%s\"\n", hash)
				infoColor.Println("      roles: [viewer]")
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username for the printed config snippet")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password to hash (prompted when omitted)")
	cmd.Flags().BoolVarP(&generate, "generate", "g", false, "Generate a random password instead")
	cmd.Flags().IntVarP(&length, "length", "l", 24, "Length of the generated password")

	return cmd
}

// promptPassword reads one line from stdin. The input is echoed.
func promptPassword() (string, error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Password (required): ")
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	input = strings.TrimRight(input, "\r\n")
	if input == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return input, nil
}
