package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewUploadCmd creates the upload command.
func NewUploadCmd(f *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload DICTIONARY [FILE...]",
		Short: "Import case files and push pending edits",
		Long: `Import each FILE, a JSON array of cases or a single case, as local
edits and then send every pending edit to the server in one batch.
Use - to read from stdin. Attachments referenced by the cases are
sent along when they are stored locally.`,
		Example: `  casesync upload CENSUS_DICT households.json
  casesync upload CENSUS_DICT`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.run(cmd, func(ctx context.Context, a *App) error {
				if err := a.requireLogin(); err != nil {
					return err
				}
				dict := args[0]
				for _, name := range args[1:] {
					n, err := importFile(ctx, a, dict, name, cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("import %s: %w", name, err)
					}
					if !f.printer(cmd).json {
						fmt.Fprintf(cmd.OutOrStdout(), "Imported %d cases from %s\n", n, name)
					}
				}
				rep, err := a.sync.Upload(ctx, dict)
				if err != nil {
					return err
				}
				return f.printer(cmd).report(rep)
			})
		},
	}
	return cmd
}

func importFile(ctx context.Context, a *App, dict, name string, stdin io.Reader) (int, error) {
	if name == "-" {
		return a.sync.Import(ctx, dict, stdin)
	}
	file, err := os.Open(name)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return a.sync.Import(ctx, dict, file)
}

// NewDownloadCmd creates the download command.
func NewDownloadCmd(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "download DICTIONARY",
		Short: "Pull every change since the last sync",
		Long: `Request pages of cases changed since the last download until the
server reports the range complete. Cases with pending local edits are
left untouched; the server reconciles them on the next upload.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.run(cmd, func(ctx context.Context, a *App) error {
				if err := a.requireLogin(); err != nil {
					return err
				}
				rep, err := a.sync.Download(ctx, args[0])
				if err != nil {
					return err
				}
				return f.printer(cmd).report(rep)
			})
		},
	}
}

// NewSyncCmd creates the sync command.
func NewSyncCmd(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync DICTIONARY",
		Short: "Upload pending edits, then download changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.run(cmd, func(ctx context.Context, a *App) error {
				if err := a.requireLogin(); err != nil {
					return err
				}
				rep, err := a.sync.Sync(ctx, args[0])
				if err != nil {
					return err
				}
				return f.printer(cmd).report(rep)
			})
		},
	}
}

// NewAttachCmd creates the attach command.
func NewAttachCmd(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "attach FILE",
		Short: "Store a binary attachment and print its signature",
		Long: `Store FILE in the local database under the MD5 signature of its
content. Reference the signature from a case's binary item to have the
attachment sent with the next upload.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.run(cmd, func(ctx context.Context, a *App) error {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				sig, err := a.sync.AddAttachment(ctx, file)
				if err != nil {
					return err
				}
				p := f.printer(cmd)
				if p.json {
					return p.encode(map[string]string{"signature": sig})
				}
				fmt.Fprintln(cmd.OutOrStdout(), sig)
				return nil
			})
		},
	}
}
