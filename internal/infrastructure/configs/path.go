package configs

import (
	"flag"
	"os"

	"github.com/hilthontt/parley/internal/infrastructure/env"
)

var candidatePaths = []string{
	"./config.yaml",
	"./config.yml",
	"./tmp/config.yaml",
	"../../config.yaml", // local dev
	"/etc/parley/config.yaml",
	"/app/config.yaml", // docker
}

// DetermineConfigPath returns the --config flag, then PARLEY_CONFIG, then the
// first candidate that exists. An empty result means defaults and env only.
func DetermineConfigPath() string {
	var configPath string

	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	if configPath == "" {
		configPath = env.GetString("PARLEY_CONFIG", "")
	}

	if configPath == "" {
		configPath = firstExisting(candidatePaths)
	}

	return configPath
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
