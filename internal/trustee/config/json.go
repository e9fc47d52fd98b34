package config

import (
	"encoding/json"
	"os"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/flagx"
)

type JsonConfig struct {
	ID          string `json:"id"`
	HTTPAddress string `json:"http_address"`
	DatabaseDSN string `json:"database_dsn"`
	AuthSecret  string `json:"auth_secret"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	LogBackend  string `json:"log_backend"`
	LogFile     string `json:"log_file"`
}

func set(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJson overlays the file named by -c/-config, if any. Empty fields
// keep their current value. Unreadable or invalid files panic.
func parseJson(config *Config) {
	path := flagx.JsonConfigFlags()
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

	set(&config.ID, c.ID)
	set(&config.HTTPAddress, c.HTTPAddress)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.AuthSecret, c.AuthSecret)
	set(&config.LogLevel, c.LogLevel)
	set(&config.LogFormat, c.LogFormat)
	set(&config.LogBackend, c.LogBackend)
	set(&config.LogFile, c.LogFile)
}
