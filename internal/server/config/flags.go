package config

import (
	"flag"
	"io"
	"strings"

	"github.com/dmitrijs2005/casesync/internal/flagx"
)

// parseFlags overlays command-line flags onto config. Flags not defined
// here, such as -c, are skipped rather than rejected. Durations take Go
// syntax ("15m", "24h").
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("casesync-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "sync API bind address")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "gRPC health bind address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "PostgreSQL DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "JWT signing key")
	fs.DurationVar(&config.AccessTokenValidityDuration, "t", config.AccessTokenValidityDuration, "access token validity")
	fs.DurationVar(&config.RefreshTokenValidityDuration, "r", config.RefreshTokenValidityDuration, "refresh token validity")
	fs.StringVar(&config.ServerDeviceID, "device", config.ServerDeviceID, "server device id")
	fs.StringVar(&config.AdminUser, "admin-user", config.AdminUser, "bootstrap admin user")
	fs.StringVar(&config.AdminPassword, "admin-password", config.AdminPassword, "bootstrap admin password")
	fs.DurationVar(&config.PendingUploadTimeout, "pending-timeout", config.PendingUploadTimeout, "age of an abandoned upload")
	fs.Int64Var(&config.MaxSyncDownloadPacketSize, "max-packet", config.MaxSyncDownloadPacketSize, "attachment bytes per download page")

	fs.StringVar(&config.BlobBackend, "m", config.BlobBackend, "blob backend: file, s3 or minio")
	fs.StringVar(&config.FilesFolder, "f", config.FilesFolder, "attachment folder of the file backend")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 access key")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	brokers := fs.String("k", strings.Join(config.KafkaBrokers, ","), "Kafka brokers, comma separated")
	fs.StringVar(&config.KafkaTopic, "kafka-topic", config.KafkaTopic, "Kafka topic of case events")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "Redis address of the schema cache")
	fs.StringVar(&config.TracingExporter, "tracing", config.TracingExporter, "trace exporter: none, stdout or otlp")
	fs.StringVar(&config.OTLPEndpoint, "otlp-endpoint", config.OTLPEndpoint, "OTLP HTTP collector")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFile, "log-file", config.LogFile, "rotated log file")

	var own []string
	fs.VisitAll(func(f *flag.Flag) {
		own = append(own, "-"+f.Name, "--"+f.Name)
	})
	if err := fs.Parse(flagx.FilterArgs(args, own)); err != nil {
		return err
	}

	config.KafkaBrokers = flagx.SplitList(*brokers)
	return nil
}
