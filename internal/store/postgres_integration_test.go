// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gatekey/gatekey/internal/store"
)

// setupPostgresContainer starts a PostgreSQL container, opens a Store
// against it, and applies all migrations.
func setupPostgresContainer() (*store.Store, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gatekey_test"),
		postgres.WithUsername("gatekey"),
		postgres.WithPassword("gatekey"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	if err := migrator.Close(); err != nil {
		return nil, nil, err
	}

	s, err := store.Open(ctx, connStr)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		s.Close()
		_ = container.Terminate(ctx)
	}

	return s, cleanup, nil
}

var _ = Describe("Store", func() {
	var s *store.Store
	var cleanup func()

	BeforeEach(func() {
		var err error
		s, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("Ping", func() {
		It("succeeds against a live database", func() {
			ctx := context.Background()
			Expect(s.Ping(ctx)).To(Succeed())
		})
	})

	Describe("SystemInfo", func() {
		It("returns error for missing key", func() {
			ctx := context.Background()
			_, err := s.GetSystemInfo(ctx, "nonexistent")
			Expect(err).To(MatchError(store.ErrNoSystemInfo))
		})

		It("sets and gets system info", func() {
			ctx := context.Background()
			err := s.SetSystemInfo(ctx, "test_key", "test_value")
			Expect(err).NotTo(HaveOccurred())

			value, err := s.GetSystemInfo(ctx, "test_key")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("test_value"))
		})

		It("updates existing key", func() {
			ctx := context.Background()
			err := s.SetSystemInfo(ctx, "update_key", "original")
			Expect(err).NotTo(HaveOccurred())

			err = s.SetSystemInfo(ctx, "update_key", "updated")
			Expect(err).NotTo(HaveOccurred())

			value, err := s.GetSystemInfo(ctx, "update_key")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("updated"))
		})
	})

	Describe("InitInstanceID", func() {
		It("generates new instance_id when none exists", func() {
			ctx := context.Background()
			instanceID, err := s.InitInstanceID(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(instanceID).NotTo(BeEmpty())
			Expect(instanceID).To(HaveLen(26)) // Valid ULID length
		})

		It("returns existing instance_id on subsequent calls", func() {
			ctx := context.Background()
			firstID, err := s.InitInstanceID(ctx)
			Expect(err).NotTo(HaveOccurred())

			secondID, err := s.InitInstanceID(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(secondID).To(Equal(firstID))
		})

		It("persists instance_id in database", func() {
			ctx := context.Background()
			instanceID, err := s.InitInstanceID(ctx)
			Expect(err).NotTo(HaveOccurred())

			storedID, err := s.GetSystemInfo(ctx, "instance_id")
			Expect(err).NotTo(HaveOccurred())
			Expect(storedID).To(Equal(instanceID))
		})
	})

	Describe("SettingsRepository", func() {
		It("round-trips settings against a live database", func() {
			ctx := context.Background()
			repo := store.NewPostgresSettingsRepository(s.Pool())

			Expect(repo.Set(ctx, "maintenance_message", "back soon", "admin")).To(Succeed())

			value, err := repo.Get(ctx, "maintenance_message")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("back soon"))

			all, err := repo.All(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveKeyWithValue("maintenance_message", "back soon"))

			Expect(repo.Delete(ctx, "maintenance_message")).To(Succeed())

			_, err = repo.Get(ctx, "maintenance_message")
			Expect(err).To(MatchError(store.ErrSettingNotFound))
		})

		It("upserts an existing key", func() {
			ctx := context.Background()
			repo := store.NewPostgresSettingsRepository(s.Pool())

			Expect(repo.Set(ctx, "registration_enabled", "true", "")).To(Succeed())
			Expect(repo.Set(ctx, "registration_enabled", "false", "admin")).To(Succeed())

			value, err := repo.Get(ctx, "registration_enabled")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("false"))
		})
	})
})
