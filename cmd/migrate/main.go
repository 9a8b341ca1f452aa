package main

import (
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/logger"
)

func main() {
	var migrationDir string
	flag.StringVar(&migrationDir, "path", "migrations", "Path to migration files")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		return
	}

	m, err := migrate.New("file://"+migrationDir, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("path", migrationDir).Msg("Migration failed to initialize")
	}
	defer m.Close()

	if err := run(m, args, log); err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Migration failed")
	}
}

func run(m *migrate.Migrate, args []string, log zerolog.Logger) error {
	switch args[0] {
	case "up":
		if err := ignoreNoChange(m.Up()); err != nil {
			return err
		}
	case "down":
		if err := ignoreNoChange(m.Down()); err != nil {
			return err
		}
	case "steps":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		if err := ignoreNoChange(m.Steps(n)); err != nil {
			return err
		}
	case "force":
		v, err := intArg(args)
		if err != nil {
			return err
		}
		if err := m.Force(v); err != nil {
			return err
		}
	case "version":
	default:
		printUsage()
		return nil
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Info().Msg("No migrations applied")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
	return nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func intArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s requires a number argument", args[0])
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", args[1], err)
	}
	return n, nil
}

func printUsage() {
	fmt.Println("Usage: migrate [flags] <command>")
	fmt.Println("Commands: up, down, steps <n>, version, force <version>")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
