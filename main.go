// Package main is the entry point for the wheelcheck application
package main

import (
	"github.com/jrschumacher/wheelcheck/cmd"
	"github.com/jrschumacher/wheelcheck/internal/config"
	"github.com/jrschumacher/wheelcheck/internal/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	cmd.Execute(cfg)
}
