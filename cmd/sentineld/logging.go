package main

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/alexandrut83/sentinel/config"
	"github.com/alexandrut83/sentinel/sentinel"
)

// consoleOutput reports whether logs should be human readable
func consoleOutput(format string) bool {
	switch format {
	case "console":
		return true
	case "json":
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newLogger builds the daemon logger
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, sentinel.InvalidConfiguration("invalid log.level %q", cfg.Level)
	}

	var zc zap.Config
	if consoleOutput(cfg.Format) {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	return zc.Build()
}

// newAuthorityLogger builds the logger used by the reference authority
func newAuthorityLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, sentinel.InvalidConfiguration("invalid log.level %q", cfg.Level)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(level)
	if consoleOutput(cfg.Format) {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}
