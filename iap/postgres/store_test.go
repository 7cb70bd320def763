//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/sirupsen/logrus"

	postgrestest "github.com/code-payments/iap-billing/database/postgres/test"
	"github.com/code-payments/iap-billing/iap/tests"

	_ "github.com/jackc/pgx/v4/stdlib"
)

var (
	testPool *dockertest.Pool
	testDB   *sql.DB
)

func TestMain(m *testing.M) {
	log := logrus.StandardLogger()

	var err error
	testPool, err = dockertest.NewPool("")
	if err != nil {
		log.WithError(err).Error("Error creating docker pool")
		os.Exit(1)
	}

	// Start a postgres container
	databaseUrl, cleanup, err := postgrestest.StartPostgresDB(testPool)
	if err != nil {
		log.WithError(err).Error("Error starting postgres image")
		os.Exit(1)
	}

	// Wait for the database to be ready
	testDB, err = postgrestest.WaitForConnection(testPool, databaseUrl)
	if err != nil {
		log.WithError(err).Error("Error waiting for connection")
		cleanup()
		os.Exit(1)
	}

	// Apply sql migrations
	if err = Migrate(context.Background(), testDB); err != nil {
		log.WithError(err).Error("Error applying schema")
		cleanup()
		os.Exit(1)
	}

	// Run tests
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func TestIap_PostgresStore(t *testing.T) {
	testStore := NewInPostgres(testDB)
	teardown := func() {
		testStore.(*store).reset()
	}
	tests.RunStoreTests(t, testStore, teardown)
}

func TestIap_PostgresMigrateTwice(t *testing.T) {
	if err := Migrate(context.Background(), testDB); err != nil {
		t.Fatalf("Error re-applying schema: %v", err)
	}
}
