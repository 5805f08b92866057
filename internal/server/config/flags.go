package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/flagx"
)

var allowedFlags = []string{
	"-a", "-d", "-s", "-auth", "-t", "-u", "-p", "-b", "-g", "-e", "-l",
	"-relay-ttl", "-rate", "-burst", "-trust-proxy",
}

// parseFlags overlays server Config fields from command-line flags.
//
//	-a string          HTTP bind address (e.g. ":8080")
//	-d string          PostgreSQL DSN
//	-s string          JWT HMAC secret key
//	-auth string       development authenticator key
//	-t int             session validity, minutes
//	-u, -p string      S3 root user and password
//	-b, -g, -e string  S3 bucket, region and base endpoint
//	-l string          log level
//	-relay-ttl dur     migration code TTL (e.g. "5m")
//	-rate float        unwrap requests per second per IP
//	-burst int         unwrap burst per IP
//	-trust-proxy       honour forwarded client IP headers
//
// Unknown flags are filtered out with flagx so the JSON -c flag and other
// components can share os.Args. Invalid values panic.
func parseFlags(config *Config) {
	var sessionMinutes int

	err := flagx.Parse("server", allowedFlags, func(fs *flag.FlagSet) {
		fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
		fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
		fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
		fs.StringVar(&config.AuthSecret, "auth", config.AuthSecret, "development authenticator key")
		fs.IntVar(&sessionMinutes, "t", int(config.SessionTTL.Minutes()), "session validity (in minutes)")
		fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
		fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
		fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
		fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
		fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
		fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
		fs.DurationVar(&config.RelayCodeTTL, "relay-ttl", config.RelayCodeTTL, "migration code TTL")
		fs.Float64Var(&config.UnwrapRateLimit, "rate", config.UnwrapRateLimit, "unwrap requests per second per IP")
		fs.IntVar(&config.UnwrapBurst, "burst", config.UnwrapBurst, "unwrap burst per IP")
		fs.BoolVar(&config.TrustProxy, "trust-proxy", config.TrustProxy, "trust X-Forwarded-For from a fronting proxy")
	})
	if err != nil {
		panic(err)
	}

	config.SessionTTL = time.Duration(sessionMinutes) * time.Minute
}
