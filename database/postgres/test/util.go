package test

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	_ "github.com/jackc/pgx/v4/stdlib"
)

const (
	containerName     = "postgres"
	containerVersion  = "15-alpine"
	containerAutoKill = 120 // seconds

	user     = "billing"
	password = "billing"
	dbName   = "billing"
)

// StartPostgresDB starts a throwaway postgres container and returns its
// connection url. The container removes itself after containerAutoKill
// seconds at the latest.
func StartPostgresDB(pool *dockertest.Pool) (string, func(), error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: containerName,
		Tag:        containerVersion,
		Env: []string{
			"POSTGRES_USER=" + user,
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + dbName,
			"listen_addresses = '*'",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return "", nil, fmt.Errorf("could not start resource: %w", err)
	}

	if err := resource.Expire(containerAutoKill); err != nil {
		return "", nil, err
	}

	databaseUrl := fmt.Sprintf(
		"postgres://%s:%s@%s/%s?sslmode=disable",
		user, password, resource.GetHostPort("5432/tcp"), dbName,
	)

	cleanup := func() {
		_ = pool.Purge(resource)
	}

	return databaseUrl, cleanup, nil
}

// WaitForConnection retries until the database accepts connections.
func WaitForConnection(pool *dockertest.Pool, databaseUrl string) (*sql.DB, error) {
	pool.MaxWait = containerAutoKill * time.Second

	var db *sql.DB
	err := pool.Retry(func() error {
		var err error
		db, err = sql.Open("pgx", databaseUrl)
		if err != nil {
			return err
		}
		return db.Ping()
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	return db, nil
}
