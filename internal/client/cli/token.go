package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/casesync/internal/shared"
	"github.com/spf13/cobra"
)

// NewTokenCmd creates the token command, which signs the device in.
func NewTokenCmd(f *GlobalFlags) *cobra.Command {
	var (
		user          string
		passwordStdin bool
		logout        bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign in and store a token pair for later commands",
		Long: `Exchange a user name and password for an access and refresh token.

The pair is kept in the local database; expired access tokens are
refreshed automatically. Use --logout to forget it.`,
		Example: `  # Prompt for credentials
  casesync token

  # Non-interactive
  echo "$PASSWORD" | casesync token --user collector --password-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.run(cmd, func(ctx context.Context, a *App) error {
				if logout {
					if err := a.auth.Logout(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
					return nil
				}
				return runToken(ctx, cmd, a, user, passwordStdin)
			})
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "user name (prompted when empty)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().BoolVar(&logout, "logout", false, "forget the stored token pair")

	return cmd
}

func runToken(ctx context.Context, cmd *cobra.Command, a *App, user string, passwordStdin bool) error {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	var err error
	if user == "" {
		if user, err = GetSimpleText(in, "User", out); err != nil {
			return err
		}
	}

	var password []byte
	if passwordStdin {
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password = []byte(strings.TrimRight(line, "\r\n"))
	} else if password, err = GetPassword(out); err != nil {
		return err
	}
	defer shared.Wipe(password)

	if err := a.auth.Login(ctx, user, string(password)); err != nil {
		return err
	}
	a.user = user
	fmt.Fprintf(out, "Logged in as %s\n", user)
	return nil
}
