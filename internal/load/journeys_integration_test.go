//go:build integration

package load

import (
	"context"
	"testing"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"citybike-importer/internal/db"
)

const journeysDDL = `
CREATE TABLE journeys (
	id             BIGSERIAL PRIMARY KEY,
	departure_id   INTEGER NOT NULL,
	departure_name TEXT NOT NULL,
	return_id      INTEGER NOT NULL,
	return_name    TEXT NOT NULL,
	distance       DOUBLE PRECISION NOT NULL,
	duration       DOUBLE PRECISION NOT NULL
)`

func TestWrite_Postgres(t *testing.T) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("citybike"),
		postgres.WithUsername("citybike"),
		postgres.WithPassword("citybike"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sqlDB, err := db.Open(db.DriverPostgres, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Ping(ctx, sqlDB))

	_, err = sqlDB.ExecContext(ctx, journeysDDL)
	require.NoError(t, err)

	w, err := NewJourneyWriter(sqlDB, Options{BatchSize: 1000, Flavor: sqlbuilder.PostgreSQL}, nil)
	require.NoError(t, err)

	sum, err := w.Write(ctx, trips(2500))
	require.NoError(t, err)
	require.Equal(t, Summary{Inserted: 2500, Batches: 3}, sum)

	n, err := db.CountRows(ctx, sqlDB, sqlbuilder.PostgreSQL, "journeys")
	require.NoError(t, err)
	require.Equal(t, int64(2500), n)
}
