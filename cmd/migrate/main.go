// Command migrate manages the PostgreSQL schema using the migrations embedded
// in the binary.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/example/oauthapp/internal/config"
	"github.com/example/oauthapp/internal/storage"
)

func main() {
	var (
		command = flag.StringP("command", "c", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
	)
	flag.Parse()

	log := logrus.New()

	cfg, err := config.New()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}
	if cfg.DBAdapter != "postgres" {
		log.Fatalf("migrations only work with PostgreSQL, current adapter: %s", cfg.DBAdapter)
	}
	dsn, err := cfg.BuildPostgresDSN()
	if err != nil {
		log.WithError(err).Fatal("postgres config error")
	}

	mg, err := storage.OpenMigrator(dsn)
	if err != nil {
		log.WithError(err).Fatal("open migrator")
	}
	defer mg.Close()

	if err := run(mg, *command, *steps, *version); err != nil {
		mg.Close()
		log.WithError(err).Fatalf("%s failed", *command)
	}
}

func run(mg *storage.Migrator, command string, steps int, version uint) error {
	switch command {
	case "up":
		var err error
		if steps > 0 {
			err = mg.Steps(steps)
		} else {
			err = mg.Up()
		}
		if err != nil {
			return err
		}
		fmt.Println("migrations applied")
	case "down":
		var err error
		if steps > 0 {
			err = mg.Steps(-steps)
		} else {
			err = mg.Down()
		}
		if err != nil {
			return err
		}
		fmt.Println("migrations rolled back")
	case "version":
		v, dirty, err := mg.Version()
		if err != nil {
			return err
		}
		if dirty {
			fmt.Printf("database is in a dirty state (version %d)\n", v)
			os.Exit(1)
		}
		fmt.Printf("current migration version: %d\n", v)
	case "force":
		if version == 0 {
			return fmt.Errorf("version required for force command (use --version)")
		}
		if err := mg.Force(int(version)); err != nil {
			return err
		}
		fmt.Printf("forced database to version %d\n", version)
	default:
		return fmt.Errorf("unknown command: %s (supported: up, down, version, force)", command)
	}
	return nil
}
