package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"drawbot/internal/config"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// CLI is the root command line.
type CLI struct {
	Config   string           `short:"c" help:"Configuration file (JSON or YAML)." default:"config.json" env:"DRAWBOT_CONFIG" type:"path"`
	EnvFile  string           `name:"env-file" help:"Dotenv file with DRAWBOT_* overrides; a missing file is ignored." default:".env" type:"path"`
	LogLevel string           `name:"log-level" help:"Log level for offline commands." default:"warn" enum:"trace,debug,info,warn,error"`
	Version  kong.VersionFlag `help:"Show version and exit."`

	Run         RunCmd         `cmd:"" default:"1" help:"Run the bot until SIGINT or SIGTERM."`
	CheckConfig CheckConfigCmd `cmd:"" name:"check-config" help:"Validate the configuration and print a summary."`
	Drawings    DrawingsCmd    `cmd:"" help:"Inspect persisted drawings."`
	Store       StoreCmd       `cmd:"" help:"Inspect and maintain the store."`
}

// AfterApply loads the dotenv file before any command reads the
// environment. Variables already set in the process win.
func (c *CLI) AfterApply() error {
	if strings.TrimSpace(c.EnvFile) == "" {
		return nil
	}
	if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", c.EnvFile, err)
	}
	return nil
}

func (c *CLI) loadConfig() (*config.Config, error) {
	return config.NewConfigManager(c.Config).Parse()
}
