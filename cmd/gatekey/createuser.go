// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package main

import (
	"context"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekey/gatekey/internal/auth"
	authpg "github.com/gatekey/gatekey/internal/auth/postgres"
	"github.com/gatekey/gatekey/internal/store"
)

type createUserOptions struct {
	databaseURL string
	username    string
	email       string
	password    string
	firstName   string
	lastName    string
	staff       bool
	superuser   bool
}

// NewCreateUserCmd creates the createuser subcommand.
func NewCreateUserCmd() *cobra.Command {
	var opts createUserOptions

	cmd := &cobra.Command{
		Use:   "createuser",
		Short: "Create a user account",
		Long:  `Create a new user account directly in the database, bypassing the HTTP API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURLFromCmd(cmd)
			if err != nil {
				return err
			}
			opts.databaseURL = url
			return runCreateUser(cmd.Context(), cmd, opts, nil)
		},
	}

	cmd.Flags().String("database_url", "", "PostgreSQL connection URL (defaults to DATABASE_URL)")
	cmd.Flags().StringVar(&opts.username, "username", "", "username for the new account")
	cmd.Flags().StringVar(&opts.email, "email", "", "email address for the new account")
	cmd.Flags().StringVar(&opts.password, "password", "", "password for the new account")
	cmd.Flags().StringVar(&opts.firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&opts.lastName, "last-name", "", "last name")
	cmd.Flags().BoolVar(&opts.staff, "staff", false, "grant staff status")
	cmd.Flags().BoolVar(&opts.superuser, "superuser", false, "grant superuser status")

	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// CreateUserDeps allows injecting alternate implementations for testing.
// Nil fields fall back to the production defaults.
type CreateUserDeps struct {
	UsersFactory func(ctx context.Context, databaseURL string) (auth.UserRepository, func(), error)
}

func runCreateUser(ctx context.Context, cmd *cobra.Command, opts createUserOptions, deps *CreateUserDeps) error {
	if deps == nil {
		deps = &CreateUserDeps{}
	}
	if deps.UsersFactory == nil {
		deps.UsersFactory = func(ctx context.Context, databaseURL string) (auth.UserRepository, func(), error) {
			st, err := store.Open(ctx, databaseURL)
			if err != nil {
				return nil, nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
			}
			return authpg.NewUserRepository(st.Pool()), st.Close, nil
		}
	}

	if !strings.Contains(opts.email, "@") {
		return oops.Code("USER_INVALID_EMAIL").With("email", opts.email).Errorf("email address is not valid")
	}
	if msgs := auth.ValidatePassword(opts.password, opts.username); len(msgs) > 0 {
		return oops.Code("USER_INVALID_PASSWORD").Errorf("%s", strings.Join(msgs, " "))
	}

	hash, err := auth.NewArgon2idHasher().Hash(opts.password)
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").Wrap(err)
	}

	user, err := auth.NewUser(opts.username, opts.email, hash)
	if err != nil {
		return err
	}
	user.FirstName = opts.firstName
	user.LastName = opts.lastName
	user.IsStaff = opts.staff
	user.IsSuperuser = opts.superuser

	users, closeStore, err := deps.UsersFactory(ctx, opts.databaseURL)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := users.Create(ctx, user); err != nil {
		return err
	}

	cmd.Printf("User %s created (%s)\n", user.Username, user.ID)
	return nil
}
