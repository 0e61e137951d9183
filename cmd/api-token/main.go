package main

import (
	"flag"
	"os"

	"github.com/secretdoor/montyhall/internal/platform/config"
	"github.com/secretdoor/montyhall/internal/tools/apitoken"
)

func main() {
	cfg, err := apitoken.ParseConfig(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := apitoken.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("issue token: %v", err)
	}
}
