package main

import (
	"errors"
	"flag"
	"os"
	"strconv"

	"github.com/caarlos0/env/v10"
	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/open-builders/soulpull-backend/internal/common/logger"
	"github.com/open-builders/soulpull-backend/internal/platform/db"
)

type options struct {
	DSN       string `env:"DATABASE_URL,required"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// usage: migrate [up|down|steps N|version|force V]
func main() {
	_ = godotenv.Load()
	var opts options
	if err := env.Parse(&opts); err != nil {
		logger.Init("soulpull-migrate", false, "console")
		logger.Fatal().Err(err).Msg("parse env")
	}
	logger.Init("soulpull-migrate", false, opts.LogFormat)

	flag.Parse()
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	m, err := db.NewMigrator(opts.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrator")
	}
	defer m.Close()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		n, convErr := strconv.Atoi(flag.Arg(1))
		if convErr != nil {
			logger.Fatal().Err(convErr).Msg("steps needs an integer")
		}
		err = m.Steps(n)
	case "force":
		v, convErr := strconv.Atoi(flag.Arg(1))
		if convErr != nil {
			logger.Fatal().Err(convErr).Msg("force needs a version")
		}
		err = m.Force(v)
	case "version":
	default:
		logger.Error().Str("command", cmd).Msg("unknown command")
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info().Msg("no migrations applied")
	case err != nil:
		logger.Fatal().Err(err).Msg("read version")
	default:
		logger.Info().Uint("version", version).Bool("dirty", dirty).Str("command", cmd).Msg("migrations done")
	}
}
