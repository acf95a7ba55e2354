package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    func(c *Config)
		wantErr bool
	}{
		{
			name: "overlays present keys",
			body: `{"server_url":"https://sync.example.org","device":"tab7","page_size":0,"request_timeout":"5s"}`,
			want: func(c *Config) {
				c.ServerURL = "https://sync.example.org"
				c.Device = "tab7"
				c.PageSize = 0
				c.RequestTimeout = 5 * time.Second
			},
		},
		{
			name: "integer nanoseconds",
			body: `{"request_timeout":1000000000,"universe":"01","log_level":"debug","database_dsn":"x.db"}`,
			want: func(c *Config) {
				c.RequestTimeout = time.Second
				c.Universe = "01"
				c.LogLevel = "debug"
				c.DatabaseDSN = "x.db"
			},
		},
		{name: "invalid json", body: `{ nope`, wantErr: true},
		{name: "invalid duration", body: `{"request_timeout":"soon"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeTempJSON(t, tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			want := &Config{}
			want.LoadDefaults()
			tt.want(want)
			assert.Equal(t, want, cfg)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorContains(t, err, "read config")
}
