package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/collegeadmin/pkg/config"
)

var version = "dev"

const usage = `usage: collegeadmin <command> [flags]

commands:
  serve         run the admin API (default)
  migrate       apply the schema and seed the administrator role
  unlock        clear a lockout: unlock -username <name>
  create-admin  provision an administrator account:
                create-admin -username <name> -email <addr> [-password <pw>]

Configuration is read from COLLEGE_CONFIG_FILE and COLLEGE_* variables.`

func main() {
	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}
	if command == "help" {
		fmt.Println(usage)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Observability)

	switch command {
	case "serve":
		err = runServe(cfg, logger)
	case "migrate":
		err = runMigrate(cfg, logger)
	case "unlock":
		err = runUnlock(cfg, logger, args)
	case "create-admin":
		err = runCreateAdmin(cfg, logger, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", command, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatalf("%s failed: %v", command, err)
	}
}

// setupLogger configures the process logger used for startup and jobs.
func setupLogger(cfg config.ObservabilityConfig) *logrus.Logger {
	logger := logrus.New()
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	return logger
}
