// chatstore - cache-coherent persistence for characters, voices and
// conversations
// License: MIT
//
// Copyright (c) 2026 chatstore contributors

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"

	"github.com/dotsetgreg/chatstore/pkg/config"
	"github.com/dotsetgreg/chatstore/pkg/director"
	"github.com/dotsetgreg/chatstore/pkg/logger"
	"github.com/dotsetgreg/chatstore/pkg/telemetry"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "chatstore"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatstore", "config.json")
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	dbPath     string
	debug      bool
}

// session is an opened director plus what has to be torn down with it.
type session struct {
	cfg      *config.Config
	dir      *director.Director
	shutdown func(context.Context) error
}

func (s *session) Close() {
	if err := s.dir.Close(); err != nil {
		logger.WarnCF("cli", "Close failed", map[string]interface{}{"error": err.Error()})
	}
	_ = s.shutdown(context.Background())
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.dbPath != "" {
		cfg.Storage.Path = flags.dbPath
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if flags.debug {
		logger.SetLevel(logger.DEBUG)
	}
	return cfg, nil
}

func openSession(ctx context.Context, flags *globalFlags) (*session, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.WarnCF("cli", "Tracing disabled", map[string]interface{}{"error": err.Error()})
	}

	path := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	d, err := director.Open(ctx, path, cfg.DirectorOptions())
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	return &session{cfg: cfg, dir: d, shutdown: shutdown}, nil
}
