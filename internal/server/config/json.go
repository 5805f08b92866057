package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/dirkeeper/internal/flagx"
	"github.com/dmitrijs2005/dirkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the server configuration. Durations
// accept "5m" style strings or integer nanoseconds.
type JsonConfig struct {
	HTTPAddr        string         `json:"http_addr"`
	DatabaseDSN     string         `json:"database_dsn"`
	SecretKey       string         `json:"secret_key"`
	AuthSecret      string         `json:"auth_secret"`
	SessionTTL      timex.Duration `json:"session_ttl"`
	S3RootUser      string         `json:"s3_root_user"`
	S3RootPassword  string         `json:"s3_root_password"`
	S3Bucket        string         `json:"s3_bucket"`
	S3Region        string         `json:"s3_region"`
	S3BaseEndpoint  string         `json:"s3_base_endpoint"`
	RelayCodeTTL    timex.Duration `json:"relay_code_ttl"`
	UnwrapRateLimit float64        `json:"unwrap_rate_limit"`
	UnwrapBurst     int            `json:"unwrap_burst"`
	TrustProxy      bool           `json:"trust_proxy"`
	LogLevel        string         `json:"log_level"`
}

// parseJson overlays the file named by -c/-config onto config. Keys missing
// from the file keep their current values. An unreadable or malformed file
// panics.
func parseJson(config *Config) {
	path := flagx.ConfigPath()
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.AuthSecret, c.AuthSecret)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.LogLevel, c.LogLevel)

	if c.SessionTTL.Duration > 0 {
		config.SessionTTL = c.SessionTTL.Duration
	}
	if c.RelayCodeTTL.Duration > 0 {
		config.RelayCodeTTL = c.RelayCodeTTL.Duration
	}
	if c.UnwrapRateLimit > 0 {
		config.UnwrapRateLimit = c.UnwrapRateLimit
	}
	if c.UnwrapBurst > 0 {
		config.UnwrapBurst = c.UnwrapBurst
	}
	if c.TrustProxy {
		config.TrustProxy = true
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
