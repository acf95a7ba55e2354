package config

import "time"

// Config holds runtime settings for the device client.
//
// Fields:
//   - ServerURL: base URL of the sync server's HTTP API.
//   - Device: id this device presents in x-csw-device and case clocks.
//   - DatabaseDSN: path of the local SQLite store.
//   - PageSize: cases requested per download page, 0 for one page.
//   - Universe: case id prefix to restrict downloads to.
//   - RequestTimeout: wait for response headers.
//   - LogLevel: slog level name.
type Config struct {
	ServerURL      string
	Device         string
	DatabaseDSN    string
	PageSize       int
	Universe       string
	RequestTimeout time.Duration
	LogLevel       string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.Device = "device"
	c.DatabaseDSN = "casesync-device.db"
	c.PageSize = 1000
	c.RequestTimeout = 30 * time.Second
	c.LogLevel = "warn"
}

// LoadConfig constructs a Config with defaults, then overlays the JSON
// file at path when path is not empty. Command line flags are applied on
// top by the caller.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path == "" {
		return cfg, nil
	}
	if err := parseJson(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}
