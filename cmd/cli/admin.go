package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/infrastructure/logger"
	"github.com/coldtrack/coldtrack/internal/repository"
	"github.com/coldtrack/coldtrack/internal/security/auth"
	"github.com/coldtrack/coldtrack/pkg/config"
	"github.com/coldtrack/coldtrack/pkg/database"
)

const superadminPasswordLength = 16

var (
	superadminUsername string
	superadminPassword string
	superadminName     string

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, pool *database.ConnectionPool, _ *slog.Logger) error {
				n, err := pool.Migrate(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
				return nil
			})
		},
	}

	superadminCmd = &cobra.Command{
		Use:   "create-superadmin",
		Short: "Create the platform superadmin",
		Long: `Create the platform superadmin account used by the portal.

Only one superadmin may exist. When --password is omitted a random password is
generated, printed once, and must be changed at first login.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, pool *database.ConnectionPool, log *slog.Logger) error {
				users := repository.NewPostgresUserRepository(pool.GetDB(), log)
				user, password, err := createSuperadmin(ctx, users, superadminUsername, superadminName, superadminPassword, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created superadmin %s (%s)\n", user.Username, user.ID)
				if superadminPassword == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "temporary password: %s\n", password)
				}
				return nil
			})
		},
	}
)

func init() {
	superadminCmd.Flags().StringVar(&superadminUsername, "username", "superadmin", "login name")
	superadminCmd.Flags().StringVar(&superadminName, "name", "Platform Admin", "display name")
	superadminCmd.Flags().StringVar(&superadminPassword, "password", "", "password (generated when empty)")
}

// withPool opens the database from the environment for the duration of fn
func withPool(ctx context.Context, stderr io.Writer, fn func(context.Context, *database.ConnectionPool, *slog.Logger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(stderr, cfg.LogLevel)
	pool, err := database.NewConnectionPool(ctx, &database.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}, log)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool, log)
}

// superadminStore is the slice of the user repository the bootstrap needs
type superadminStore interface {
	GetSuperadmin(ctx context.Context) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
}

// createSuperadmin stores a new superadmin unless one exists and returns the password used
func createSuperadmin(ctx context.Context, users superadminStore, username, name, password string, now time.Time) (*domain.User, string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, "", errors.New("username is required")
	}
	existing, err := users.GetSuperadmin(ctx)
	switch {
	case err == nil:
		return nil, "", fmt.Errorf("superadmin %q already exists", existing.Username)
	case domain.CodeOf(err) != domain.CodeNotFound:
		return nil, "", err
	}

	generated := password == ""
	if generated {
		if password, err = auth.GeneratePassword(superadminPasswordLength); err != nil {
			return nil, "", err
		}
	} else if err := auth.ValidateStrength(password); err != nil {
		return nil, "", err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	now = now.UTC()
	user := &domain.User{
		ID:                 uuid.NewString(),
		Username:           username,
		Name:               strings.TrimSpace(name),
		Role:               domain.RoleSuperadmin,
		PasswordHash:       hash,
		PasswordHistory:    []string{hash},
		PasswordChangedAt:  &now,
		MustChangePassword: generated,
		ConsentAccepted:    true,
		ConsentAcceptedAt:  &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, "", err
	}
	return user, password, nil
}
