// seed inserts a development user for local testing.
// Idempotent: skips the insert if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"auth-service/internal/config"
	"auth-service/internal/db"
	"auth-service/internal/logging"
	"auth-service/internal/security"
	userdomain "auth-service/internal/user/domain"
	userrepo "auth-service/internal/user/repository"
)

const (
	devUserEmail    = "dev@example.com"
	devUsername     = "dev"
	devUserName     = "Dev User"
	devUserPassword = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("open database", logging.Error(err))
		os.Exit(1)
	}
	defer conn.Close()

	created, err := seed(ctx, userrepo.NewPostgresRepository(conn), security.NewHasher(cfg.BcryptCost))
	if err != nil {
		logger.Error("seed failed", logging.Error(err))
		os.Exit(1)
	}
	if !created {
		logger.Info("seed already applied; skipping", slog.String("email", devUserEmail))
		return
	}
	logger.Info("seeded dev user", slog.String("email", devUserEmail))
}

// seed creates the dev user unless a user with its email exists.
func seed(ctx context.Context, users userrepo.Repository, hasher *security.Hasher) (bool, error) {
	existing, err := users.FindByEmail(ctx, devUserEmail)
	if err != nil {
		return false, fmt.Errorf("seed check: %w", err)
	}
	if existing != nil {
		return false, nil
	}
	hash, err := hasher.Hash(devUserPassword)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	first, last := userdomain.SplitName(devUserName)
	u := &userdomain.User{
		ID:           uuid.NewString(),
		Email:        devUserEmail,
		Username:     devUsername,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		IsActive:     true,
	}
	if _, err := users.Save(ctx, u); err != nil {
		return false, fmt.Errorf("create dev user: %w", err)
	}
	return true, nil
}
