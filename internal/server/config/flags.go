package config

import (
	"flag"
	"os"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-r string   Redis address
//	-k string   kv backend: redis or memory
//	-T list     trustees as id=url pairs, comma separated
//	-t int      share threshold
//	-v string   Groth16 verifying key path
//	-s string   trustee token secret
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint
//	-l string   log level
//
// Only the flags above are considered; os.Args is filtered with
// flagx.FilterArgs first so -c/-config and foreign flags pass through.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-r", "-k", "-T", "-t", "-v", "-s", "-u", "-p", "-b", "-g", "-e", "-l",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddress, "a", config.HTTPAddress, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisAddress, "r", config.RedisAddress, "redis address")
	fs.StringVar(&config.KVBackend, "k", config.KVBackend, "kv backend (redis|memory)")
	fs.Var(&config.Trustees, "T", "trustees, id=url[,id=url...]")
	fs.IntVar(&config.ShareThreshold, "t", config.ShareThreshold, "shares needed to reveal")
	fs.StringVar(&config.VerifyingKeyPath, "v", config.VerifyingKeyPath, "verifying key path")
	fs.StringVar(&config.TrusteeAuthSecret, "s", config.TrusteeAuthSecret, "trustee token secret")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
