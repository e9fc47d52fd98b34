package config

import (
	"flag"
	"os"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/flagx"
)

// parseFlags applies:
//
//	-i string   trustee id (must match the id the escrow node uses)
//	-a string   HTTP bind address
//	-d string   PostgreSQL DSN
//	-s string   shared HS256 secret
//	-l string   log level
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-i", "-a", "-d", "-s", "-l"})

	fs := flag.NewFlagSet("trustee", flag.ContinueOnError)
	fs.StringVar(&config.ID, "i", config.ID, "trustee id")
	fs.StringVar(&config.HTTPAddress, "a", config.HTTPAddress, "address and port to listen on")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.AuthSecret, "s", config.AuthSecret, "shared token secret")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
