package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command.
func NewStatusCmd(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [DICTIONARY]",
		Short: "Show server identity and local sync state",
		Long: `Show which server and user this device talks to. With DICTIONARY,
also show local case counts and the download cursor; without it, list
the dictionaries the server holds.

An unreachable server is reported, not treated as an error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.run(cmd, func(ctx context.Context, a *App) error {
				return runStatus(ctx, f.printer(cmd), a, args)
			})
		},
	}
}

func runStatus(ctx context.Context, p *printer, a *App, args []string) error {
	v := &statusView{User: a.user, Device: a.config.Device}

	info, err := a.client.ServerInfo(ctx)
	if err != nil {
		v.ServerError = err.Error()
	}
	v.Server = info

	if len(args) == 1 {
		st, err := a.sync.Status(ctx, args[0])
		if err != nil {
			return err
		}
		v.Local = st
	} else if info != nil && a.user != "" {
		if v.Dictionaries, err = a.client.Dictionaries(ctx); err != nil {
			return err
		}
	}
	return p.status(v)
}
