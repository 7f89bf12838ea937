// Package main is cgpactl, the admin CLI for the CGPA calculator:
// schema migrations and account management.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cgpacalc/cgpacalc/internal/clock"
	"github.com/cgpacalc/cgpacalc/internal/config"
	"github.com/cgpacalc/cgpacalc/internal/model"
	"github.com/cgpacalc/cgpacalc/internal/repository"
	"github.com/cgpacalc/cgpacalc/internal/service"
)

// accounts is the account surface the CLI drives.
type accounts interface {
	CreateUser(ctx context.Context, username, password string) (*model.User, error)
	SetPassword(ctx context.Context, username, password string) error
	SetActive(ctx context.Context, username string, active bool) error
	ListUsers(ctx context.Context) ([]*model.User, error)
}

// migrator is satisfied by *repository.Migrator.
type migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, ok bool, err error)
	Close() error
}

// deps opens backing resources lazily so --help never touches the database.
type deps struct {
	openAccounts func(ctx context.Context) (accounts, func(), error)
	openMigrator func() (migrator, error)
}

func productionDeps() deps {
	return deps{
		openAccounts: func(ctx context.Context) (accounts, func(), error) {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return nil, nil, err
			}
			repo, err := repository.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, nil, fmt.Errorf("connect to database: %w", err)
			}
			return service.NewAuthService(repo, clock.Real{}, nil), repo.Close, nil
		},
		openMigrator: func() (migrator, error) {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return nil, err
			}
			return repository.NewMigrator(cfg.DatabaseURL)
		},
	}
}

func main() {
	if err := newRootCmd(productionDeps()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
