package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/collegeadmin/pkg/auth"
	"github.com/platinummonkey/collegeadmin/pkg/config"
)

const commandTimeout = 30 * time.Second

func runMigrate(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.WithField("admin_role", a.rbac.AdminRole()).Info("Schema is up to date")
	return nil
}

func runUnlock(cfg *config.Config, logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	username := fs.String("username", "", "Account to unlock")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("-username is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.authn.UnlockUsername(ctx, *username)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"user_id": u.ID, "username": u.Username}).Info("Account unlocked")
	return nil
}

func runCreateAdmin(cfg *config.Config, logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	username := fs.String("username", "", "Login name")
	email := fs.String("email", "", "Email address")
	fullName := fs.String("name", "", "Display name")
	password := fs.String("password", os.Getenv("COLLEGE_ADMIN_PASSWORD"), "Initial password (defaults to COLLEGE_ADMIN_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		return errors.New("a password is required via -password or COLLEGE_ADMIN_PASSWORD")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, cfg.Database.AutoMigrate)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.rbac.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}

	adminRole, err := a.rbac.AdminRoleID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve administrator role: %w", err)
	}

	u, err := a.authn.ProvisionUser(ctx, auth.NewUser{
		Username: *username,
		Email:    *email,
		Password: *password,
		FullName: *fullName,
		Verified: true,
	}, []int64{adminRole})
	if err != nil {
		var policy *auth.PolicyViolationError
		if errors.As(err, &policy) {
			return fmt.Errorf("password rejected: %v", policy.Rules)
		}
		return err
	}

	logger.WithFields(logrus.Fields{"user_id": u.ID, "username": u.Username}).Info("Administrator created")
	return nil
}
