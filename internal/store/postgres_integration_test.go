// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/doorward/doorward/internal/auth"
	authpg "github.com/doorward/doorward/internal/auth/postgres"
	"github.com/doorward/doorward/internal/store"
)

// setupPostgresContainer starts a PostgreSQL container with the schema applied.
func setupPostgresContainer() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("doorward_test"),
		postgres.WithUsername("doorward"),
		postgres.WithPassword("doorward"),
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

	pool, err := store.Connect(ctx, connStr)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup, nil
}

var _ = Describe("UserRepository", func() {
	var repo *authpg.UserRepository
	var cleanup func()

	BeforeEach(func() {
		pool, c, err := setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())
		cleanup = c
		repo = authpg.NewUserRepository(pool)
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("Create", func() {
		It("stores users and finds them by email", func() {
			ctx := context.Background()
			user, err := auth.NewUser("alice@example.com", "$argon2id$fake-hash")
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.Create(ctx, user)).To(Succeed())

			got, err := repo.FindByEmail(ctx, "alice@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(user.ID))
			Expect(got.SessionToken).To(BeNil())
			Expect(got.ResetToken).To(BeNil())
		})

		It("rejects duplicate emails", func() {
			ctx := context.Background()
			first, err := auth.NewUser("bob@example.com", "$argon2id$one")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.Create(ctx, first)).To(Succeed())

			second, err := auth.NewUser("bob@example.com", "$argon2id$two")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.Create(ctx, second)).To(MatchError(auth.ErrEmailTaken))
		})

		It("admits exactly one of many concurrent registrations", func() {
			ctx := context.Background()
			const racers = 8

			results := make(chan error, racers)
			var wg sync.WaitGroup
			for i := 0; i < racers; i++ {
				user, err := auth.NewUser("carol@example.com", "$argon2id$racer")
				Expect(err).NotTo(HaveOccurred())

				wg.Add(1)
				go func() {
					defer wg.Done()
					results <- repo.Create(ctx, user)
				}()
			}
			wg.Wait()
			close(results)

			var wins, conflicts int
			for err := range results {
				switch {
				case err == nil:
					wins++
				case errors.Is(err, auth.ErrEmailTaken):
					conflicts++
				default:
					Fail("unexpected create error: " + err.Error())
				}
			}
			Expect(wins).To(Equal(1))
			Expect(conflicts).To(Equal(racers - 1))
		})
	})

	Describe("Find", func() {
		It("maps missing rows to ErrNotFound", func() {
			ctx := context.Background()
			_, err := repo.FindByEmail(ctx, "nobody@example.com")
			Expect(err).To(MatchError(auth.ErrNotFound))

			_, err = repo.FindBySessionToken(ctx, auth.HashToken("unknown"))
			Expect(err).To(MatchError(auth.ErrNotFound))

			_, err = repo.FindByResetToken(ctx, auth.HashToken("unknown"))
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("Update", func() {
		var user *auth.User

		BeforeEach(func() {
			ctx := context.Background()
			var err error
			user, err = auth.NewUser("carol@example.com", "$argon2id$fake-hash")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.Create(ctx, user)).To(Succeed())
		})

		It("sets and clears the session token", func() {
			ctx := context.Background()
			hash := auth.HashToken("opaque-session")

			err := repo.Update(ctx, user.ID, auth.UserUpdate{
				SessionToken:    &hash,
				SetSessionToken: true,
			})
			Expect(err).NotTo(HaveOccurred())

			got, err := repo.FindBySessionToken(ctx, hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(user.ID))

			err = repo.Update(ctx, user.ID, auth.UserUpdate{SetSessionToken: true})
			Expect(err).NotTo(HaveOccurred())

			_, err = repo.FindBySessionToken(ctx, hash)
			Expect(err).To(MatchError(auth.ErrNotFound))
		})

		It("applies password and reset token changes atomically", func() {
			ctx := context.Background()
			resetHash := auth.HashToken("reset-me")

			err := repo.Update(ctx, user.ID, auth.UserUpdate{
				ResetToken:    &resetHash,
				SetResetToken: true,
			})
			Expect(err).NotTo(HaveOccurred())

			newHash := "$argon2id$new-hash"
			err = repo.Update(ctx, user.ID, auth.UserUpdate{
				PasswordHash:  &newHash,
				SetResetToken: true,
			})
			Expect(err).NotTo(HaveOccurred())

			got, err := repo.FindByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PasswordHash).To(Equal(newHash))
			Expect(got.ResetToken).To(BeNil())
		})

		It("returns ErrNotFound for unknown ids", func() {
			ctx := context.Background()
			ghost, err := auth.NewUser("ghost@example.com", "$argon2id$x")
			Expect(err).NotTo(HaveOccurred())

			attempts := 1
			err = repo.Update(ctx, ghost.ID, auth.UserUpdate{FailedAttempts: &attempts})
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})
})
