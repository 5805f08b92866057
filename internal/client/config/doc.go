// Package config loads runtime configuration for the dirkeeper CLI.
//
// Sources, later ones winning: built-in defaults, an optional JSON file given
// with -c or -config, then command-line flags (see parseFlags).
//
//	{
//	  "server_url": "https://dirkeeper.example",
//	  "online_check_interval": "3s",
//	  "online_max_wait": "2m",
//	  "database_path": "dirkeeper.db",
//	  "download_dir": "downloads",
//	  "user_id": "alice",
//	  "auth_secret": "dev"
//	}
package config
