package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/flagx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/timex"
)

// JsonConfig is the on-disk shape of Config. Durations use timex.Duration,
// so both "15s" and integer nanoseconds are accepted.
type JsonConfig struct {
	HTTPAddress      string `json:"http_address"`
	DatabaseDSN      string `json:"database_dsn"`
	RedisAddress     string `json:"redis_address"`
	RedisDB          *int   `json:"redis_db"`
	KVBackend        string `json:"kv_backend"`
	BlobBackend      string `json:"blob_backend"`
	S3RootUser       string `json:"s3_root_user"`
	S3RootPassword   string `json:"s3_root_password"`
	S3Bucket         string `json:"s3_bucket"`
	S3Region         string `json:"s3_region"`
	S3BaseEndpoint   string `json:"s3_base_endpoint"`
	VerifyingKeyPath string `json:"verifying_key_path"`

	Trustees       flagx.EndpointList `json:"trustees"`
	ShareThreshold int                `json:"share_threshold"`
	PollInterval   timex.Duration     `json:"poll_interval"`

	DistributeTimeout  timex.Duration `json:"distribute_timeout"`
	DistributeAttempts int            `json:"distribute_attempts"`
	DistributeBackoff  timex.Duration `json:"distribute_backoff"`
	CollectTimeout     timex.Duration `json:"collect_timeout"`
	BlobTimeout        timex.Duration `json:"blob_timeout"`
	RetryInterval      timex.Duration `json:"retry_interval"`
	RetryMaxAttempts   int            `json:"retry_max_attempts"`

	TrusteeAuthSecret string `json:"trustee_auth_secret"`
	LenderTokenSecret string `json:"lender_token_secret"`
	AdminToken        string `json:"admin_token"`

	LogLevel   string `json:"log_level"`
	LogFormat  string `json:"log_format"`
	LogBackend string `json:"log_backend"`
	LogFile    string `json:"log_file"`
}

func set[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	set(dst, v.Duration)
}

// parseJson overlays the file named by -c/-config, if any. Fields absent
// from the file keep their current value. An unreadable or invalid file
// panics.
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

	set(&config.HTTPAddress, c.HTTPAddress)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.RedisAddress, c.RedisAddress)
	if c.RedisDB != nil {
		config.RedisDB = *c.RedisDB
	}
	set(&config.KVBackend, c.KVBackend)
	set(&config.BlobBackend, c.BlobBackend)
	set(&config.S3RootUser, c.S3RootUser)
	set(&config.S3RootPassword, c.S3RootPassword)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	set(&config.VerifyingKeyPath, c.VerifyingKeyPath)

	if len(c.Trustees) > 0 {
		config.Trustees = c.Trustees
	}
	set(&config.ShareThreshold, c.ShareThreshold)
	setDuration(&config.PollInterval, c.PollInterval)

	setDuration(&config.DistributeTimeout, c.DistributeTimeout)
	set(&config.DistributeAttempts, c.DistributeAttempts)
	setDuration(&config.DistributeBackoff, c.DistributeBackoff)
	setDuration(&config.CollectTimeout, c.CollectTimeout)
	setDuration(&config.BlobTimeout, c.BlobTimeout)
	setDuration(&config.RetryInterval, c.RetryInterval)
	set(&config.RetryMaxAttempts, c.RetryMaxAttempts)

	set(&config.TrusteeAuthSecret, c.TrusteeAuthSecret)
	set(&config.LenderTokenSecret, c.LenderTokenSecret)
	set(&config.AdminToken, c.AdminToken)

	set(&config.LogLevel, c.LogLevel)
	set(&config.LogFormat, c.LogFormat)
	set(&config.LogBackend, c.LogBackend)
	set(&config.LogFile, c.LogFile)
}
