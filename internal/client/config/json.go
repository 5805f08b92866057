package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/dirkeeper/internal/flagx"
	"github.com/dmitrijs2005/dirkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the client configuration.
type JsonConfig struct {
	ServerURL           string         `json:"server_url"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	OnlineMaxWait       timex.Duration `json:"online_max_wait"`
	DatabasePath        string         `json:"database_path"`
	DownloadDir         string         `json:"download_dir"`
	UserID              string         `json:"user_id"`
	AuthSecret          string         `json:"auth_secret"`
	LogLevel            string         `json:"log_level"`
}

// parseJson overlays the file named by -c/-config. Missing keys keep their
// current values; an unreadable or malformed file panics.
func parseJson(cfg *Config) {
	path := flagx.ConfigPath()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	for dst, v := range map[*string]string{
		&cfg.ServerURL:    jc.ServerURL,
		&cfg.DatabasePath: jc.DatabasePath,
		&cfg.DownloadDir:  jc.DownloadDir,
		&cfg.UserID:       jc.UserID,
		&cfg.AuthSecret:   jc.AuthSecret,
		&cfg.LogLevel:     jc.LogLevel,
	} {
		if v != "" {
			*dst = v
		}
	}
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.OnlineMaxWait.Duration > 0 {
		cfg.OnlineMaxWait = jc.OnlineMaxWait.Duration
	}
}
