// seedadmin creates an account directly in the database, typically the
// first admin of a fresh install. With --reset an existing account gets the
// new password instead.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"scanattend/internal/apperr"
	"scanattend/internal/auth"
	"scanattend/internal/config"
	"scanattend/internal/store"
	"scanattend/internal/users"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	config.LoadDotEnv()
	cfg := config.Load()

	var username, password, role, dbURL string
	var reset bool
	flagSet := pflag.NewFlagSet("seedadmin", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVarP(&username, "username", "u", "admin", "account name")
	flagSet.StringVarP(&password, "password", "p", cfg.AdminPassword, "account password (default: $ADMIN_PASSWORD)")
	flagSet.StringVar(&role, "role", "admin", "account role, user or admin")
	flagSet.StringVar(&dbURL, "db", cfg.DatabaseURL, "database URL or SQLite path")
	flagSet.BoolVar(&reset, "reset", false, "set the password if the account already exists")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if password == "" {
		return errors.New("--password is required")
	}

	db, err := store.Open(ctx, dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: out, NoColor: true}).Level(cfg.LogLevel)
	ctx = logger.WithContext(ctx)

	clock := clockwork.NewRealClock()
	tokens := auth.NewTokens(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.TokenTTL, clock)
	svc := users.NewService(users.NewRepository(db, clock, cfg.Location), auth.NewHasher(cfg.BcryptCost), tokens)

	u, err := svc.Register(ctx, username, password, role)
	switch {
	case err == nil:
		fmt.Fprintf(out, "created %s (%s) id=%d\n", u.Username, u.Role, u.ID)
		return nil
	case apperr.Is(err, apperr.Conflict) && reset:
		if err := svc.ResetPassword(ctx, username, password); err != nil {
			return err
		}
		fmt.Fprintf(out, "password reset for %s\n", username)
		return nil
	case apperr.Is(err, apperr.Conflict):
		return fmt.Errorf("user %q already exists, pass --reset to change its password", username)
	default:
		return err
	}
}
