package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/casesync/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, the fields present in the file
// are copied into the runtime Config.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	AdminUser                    string         `json:"admin_user"`
	AdminPassword                string         `json:"admin_password"`
	ServerDeviceID               string         `json:"server_device_id"`
	MaxSyncDownloadPacketSize    int64          `json:"max_sync_download_packet_size"`
	PendingUploadTimeout         timex.Duration `json:"pending_upload_timeout"`
	FilesFolder                  string         `json:"files_folder"`
	BlobBackend                  string         `json:"blob_backend"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
	KafkaBrokers                 []string       `json:"kafka_brokers"`
	KafkaTopic                   string         `json:"kafka_topic"`
	RedisAddr                    string         `json:"redis_addr"`
	SchemaCacheTTL               timex.Duration `json:"schema_cache_ttl"`
	TracingExporter              string         `json:"tracing_exporter"`
	OTLPEndpoint                 string         `json:"otlp_endpoint"`
	LogLevel                     string         `json:"log_level"`
	LogFile                      string         `json:"log_file"`
}

// parseJson overlays the file at path onto config. Keys missing from the
// file keep the value already in config. An empty path is a no-op.
func parseJson(config *Config, path string) error {
	if path == "" {
		return nil
	}
	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setString(&config.AdminUser, c.AdminUser)
	setString(&config.AdminPassword, c.AdminPassword)
	setString(&config.ServerDeviceID, c.ServerDeviceID)
	if c.MaxSyncDownloadPacketSize > 0 {
		config.MaxSyncDownloadPacketSize = c.MaxSyncDownloadPacketSize
	}
	setDuration(&config.PendingUploadTimeout, c.PendingUploadTimeout)
	setString(&config.FilesFolder, c.FilesFolder)
	setString(&config.BlobBackend, c.BlobBackend)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if len(c.KafkaBrokers) > 0 {
		config.KafkaBrokers = c.KafkaBrokers
	}
	setString(&config.KafkaTopic, c.KafkaTopic)
	setString(&config.RedisAddr, c.RedisAddr)
	setDuration(&config.SchemaCacheTTL, c.SchemaCacheTTL)
	setString(&config.TracingExporter, c.TracingExporter)
	setString(&config.OTLPEndpoint, c.OTLPEndpoint)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFile, c.LogFile)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
