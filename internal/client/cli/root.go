package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/casesync/internal/buildinfo"
	"github.com/dmitrijs2005/casesync/internal/client/config"
	"github.com/spf13/cobra"
)

// GlobalFlags holds the flags shared by every command.
type GlobalFlags struct {
	ConfigFile string
	Output     string

	ServerURL   string
	Device      string
	DatabaseDSN string
	PageSize    int
	Universe    string
	Timeout     time.Duration
	LogLevel    string
}

// NewRootCmd creates the root command for the casesync device CLI.
func NewRootCmd() *cobra.Command {
	f := &GlobalFlags{}

	rootCmd := &cobra.Command{
		Use:   "casesync",
		Short: "Synchronize survey cases between this device and a casesync server",
		Long: `casesync keeps a local copy of survey cases on a data collection
device and exchanges changes with a casesync server.

Local edits are kept until the server has accepted them; downloads
resume from the last page applied if they are interrupted.`,
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&f.ConfigFile, "config", "c", "", "JSON config file")
	pf.StringVarP(&f.Output, "output", "o", "text", "output format: text, json")
	pf.StringVarP(&f.ServerURL, "server", "s", "", "server base URL")
	pf.StringVarP(&f.Device, "device", "d", "", "device id")
	pf.StringVar(&f.DatabaseDSN, "db", "", "local database path")
	pf.IntVar(&f.PageSize, "page-size", 0, "cases per download page, 0 for a single page")
	pf.StringVar(&f.Universe, "universe", "", "only download case ids with this prefix")
	pf.DurationVar(&f.Timeout, "timeout", 0, "wait for server response headers")
	pf.StringVar(&f.LogLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(NewTokenCmd(f))
	rootCmd.AddCommand(NewUploadCmd(f))
	rootCmd.AddCommand(NewDownloadCmd(f))
	rootCmd.AddCommand(NewSyncCmd(f))
	rootCmd.AddCommand(NewAttachCmd(f))
	rootCmd.AddCommand(NewStatusCmd(f))

	return rootCmd
}

// loadConfig layers flags the user set over the config file and defaults.
func (f *GlobalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(f.ConfigFile)
	if err != nil {
		return nil, err
	}
	set := cmd.Flags().Changed
	if set("server") {
		cfg.ServerURL = f.ServerURL
	}
	if set("device") {
		cfg.Device = f.Device
	}
	if set("db") {
		cfg.DatabaseDSN = f.DatabaseDSN
	}
	if set("page-size") {
		cfg.PageSize = f.PageSize
	}
	if set("universe") {
		cfg.Universe = f.Universe
	}
	if set("timeout") {
		cfg.RequestTimeout = f.Timeout
	}
	if set("log-level") {
		cfg.LogLevel = f.LogLevel
	}

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is not configured")
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("device id is not configured")
	}
	if cfg.PageSize < 0 {
		return nil, fmt.Errorf("page size must not be negative")
	}
	return cfg, nil
}

// run opens an App for the duration of fn.
func (f *GlobalFlags) run(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := NewApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func (f *GlobalFlags) printer(cmd *cobra.Command) *printer {
	return &printer{w: cmd.OutOrStdout(), json: f.Output == "json"}
}
