package main

import (
	"flag"
	"os"

	"github.com/secretdoor/montyhall/internal/platform/config"
	"github.com/secretdoor/montyhall/internal/tools/nodekey"
)

func main() {
	cfg, err := nodekey.ParseConfig(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := nodekey.Run(cfg, os.Stdout); err != nil {
		config.Exitf("derive key: %v", err)
	}
}
