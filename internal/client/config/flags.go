package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/flagx"
)

var allowedFlags = []string{"-a", "-i", "-w", "-db", "-o", "-u", "-auth", "-l"}

// parseFlags overlays Config from command-line flags:
//
//	-a string     server base URL
//	-i int        online check interval, seconds
//	-w dur        how long to wait for the server before giving up (0 waits forever)
//	-db string    local device store path
//	-o string     download directory
//	-u string     user id
//	-auth string  development authenticator key
//	-l string     log level
func parseFlags(cfg *Config) {
	var interval int

	err := flagx.Parse("client", allowedFlags, func(fs *flag.FlagSet) {
		fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "server base URL")
		fs.IntVar(&interval, "i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
		fs.DurationVar(&cfg.OnlineMaxWait, "w", cfg.OnlineMaxWait, "max wait for the server")
		fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "local device store")
		fs.StringVar(&cfg.DownloadDir, "o", cfg.DownloadDir, "download directory")
		fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id")
		fs.StringVar(&cfg.AuthSecret, "auth", cfg.AuthSecret, "development authenticator key")
		fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	})
	if err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(interval) * time.Second
}
