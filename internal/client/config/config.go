package config

import "time"

// Config holds runtime settings for the dirkeeper CLI.
type Config struct {
	ServerURL           string
	OnlineCheckInterval time.Duration
	OnlineMaxWait       time.Duration
	DatabasePath        string
	DownloadDir         string
	UserID              string
	AuthSecret          string
	LogLevel            string
}

func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.OnlineCheckInterval = 3 * time.Second
	c.OnlineMaxWait = 2 * time.Minute
	c.DatabasePath = "dirkeeper.db"
	c.DownloadDir = "downloads"
	c.LogLevel = "warn"
}

// LoadConfig applies defaults, then the JSON file, then flags. Later sources
// take precedence.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
