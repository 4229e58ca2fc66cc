package main

import (
	"flag"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/yszxh/gproxy/internal/cmd"
	"github.com/yszxh/gproxy/internal/config"
	"github.com/yszxh/gproxy/internal/logging"
)

func main() {
	var login bool
	var providerName string
	var projectID string
	var configPath string

	flag.BoolVar(&login, "login", false, "run the OAuth login flow for a provider")
	flag.StringVar(&providerName, "provider", "", "provider name for -login")
	flag.StringVar(&projectID, "project_id", "", "preferred Google Cloud project id for -login")
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.Parse()

	logging.SetupBaseLogger(false)

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if login {
		if providerName == "" {
			log.Fatal("-login requires -provider")
		}
		cmd.DoLogin(cfg, providerName, projectID)
		return
	}
	cmd.StartService(cfg, configPath)
}
