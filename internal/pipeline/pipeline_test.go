package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"citybike-importer/internal/citybike"
	"citybike-importer/internal/metrics"
	"citybike-importer/internal/publisher"
)

const header = "Departure,Return,Departure station id,Departure station name,Return station id,Return station name,Covered distance (m),Duration (sec.)\n"

type fakePublisher struct {
	progress []publisher.ProgressMessage
	runs     []publisher.RunMessage
}

func (f *fakePublisher) PublishProgress(m publisher.ProgressMessage) error {
	f.progress = append(f.progress, m)
	return nil
}

func (f *fakePublisher) PublishRun(m publisher.RunMessage) error {
	f.runs = append(f.runs, m)
	return nil
}

func writeCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

// fixture returns two trip files holding 6 rows of which 3 survive cleaning,
// and a station file with 2 stations.
func fixture(t *testing.T) (trips []string, stations string) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "2021-05.csv", header+
		"2021-05-31T23:57:25,2021-06-01T00:05:46,5,A,7,B,50.0,120\n"+
		"2021-05-31T23:57:25,2021-06-01T00:05:46,5,A,7,B,50.0,120\n"+
		"2021-05-31T23:56:59,2021-06-01T00:07:14,3,C,-1,D,100.0,60\n")
	b := writeCSV(t, dir, "2021-06.csv", header+
		"2021-06-30T23:59:59,2021-07-01T00:15:16,1,E,2,F,5.0,600\n"+
		"2021-06-30T23:59:59,2021-07-01T00:15:16,1,E,2,F,1500,600\n"+
		"2021-06-30T23:59:59,2021-07-01T00:15:16,2,F,1,E,1600,700\n")
	s := writeCSV(t, dir, "stations.csv",
		"FID,ID,Nimi,Namn,Name,Osoite,Adress,Kaupunki,Stad,Operaattor,Kapasiteet,x,y\n"+
			"1,501,Hanasaari,Hanaholmen,Hanasaari,Hanasaarenranta 1,Hanaholmsstranden 1,Espoo,Esbo,CityBike Finland,10,24.840319,60.16582\n"+
			"2,503,Keilalahti,Kägelviken,Keilalahti,Keilalahdentie 2,Kägelviksvägen 2,Espoo,Esbo,CityBike Finland,28,24.827467,60.171524\n")
	return []string{a, b}, s
}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func TestRun_EndToEnd(t *testing.T) {
	files, stations := fixture(t)
	sqlDB, mock := newMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM journeys`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO journeys`).
		WithArgs(5, "A", 7, "B", 50.0, 120.0, 1, "E", 2, "F", 1500.0, 600.0).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO journeys`).
		WithArgs(2, "F", 1, "E", 1600.0, 700.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mcol := metrics.NewCollector(2)
	pub := &fakePublisher{}
	p := New(Options{TripFiles: files, StationFile: stations, BatchSize: 2, Flavor: sqlbuilder.PostgreSQL},
		sqlDB, zap.NewNop(), mcol, pub)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, citybike.Stats{Read: 6, Invalid: 2, Duplicates: 1, Cleaned: 3, Inserted: 3, Batches: 2, Stations: 2}, stats)

	assert.Equal(t, 6.0, testutil.ToFloat64(mcol.RowsRead))
	assert.Equal(t, 2.0, testutil.ToFloat64(mcol.RowsInvalid))
	assert.Equal(t, 1.0, testutil.ToFloat64(mcol.RowsDuplicate))
	assert.Equal(t, 3.0, testutil.ToFloat64(mcol.RowsInserted))
	assert.Equal(t, 2.0, testutil.ToFloat64(mcol.BatchesCommitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(mcol.StationsLoaded))
	assert.Greater(t, testutil.ToFloat64(mcol.LastSuccess), 0.0)

	require.Len(t, pub.progress, 2)
	assert.Equal(t, 2, pub.progress[0].Processed)
	assert.Equal(t, 3, pub.progress[1].Processed)
	require.Len(t, pub.runs, 1)
	assert.Equal(t, "completed", pub.runs[0].Status)
	assert.Equal(t, 3, pub.runs[0].Inserted)
	assert.Equal(t, pub.progress[0].RunID, pub.runs[0].RunID)
}

func TestRun_InsertFailureReportsStage(t *testing.T) {
	files, _ := fixture(t)
	sqlDB, mock := newMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM journeys`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO journeys`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO journeys`).WillReturnError(errors.New("relation lost"))
	mock.ExpectRollback()

	mcol := metrics.NewCollector(2)
	pub := &fakePublisher{}
	p := New(Options{TripFiles: files, BatchSize: 2, Flavor: sqlbuilder.PostgreSQL}, sqlDB, nil, mcol, pub)

	stats, err := p.Run(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, citybike.StageInsert, citybike.StageOf(err))
	assert.Equal(t, citybike.ExitInsert, citybike.ExitCodeForError(err))
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 1.0, testutil.ToFloat64(mcol.StageFailures.WithLabelValues("insert")))
	assert.Equal(t, 0.0, testutil.ToFloat64(mcol.LastSuccess))

	require.Len(t, pub.runs, 1)
	assert.Equal(t, "failed", pub.runs[0].Status)
	assert.Equal(t, "insert", pub.runs[0].Stage)
	assert.Equal(t, 2, pub.runs[0].Inserted)
}

func TestRun_ValidationFailureStopsBeforeDatabase(t *testing.T) {
	dir := t.TempDir()
	f := writeCSV(t, dir, "bad.csv", header+"x,y,1,A,2,B,far,60\n")
	sqlDB, mock := newMock(t)

	pub := &fakePublisher{}
	_, err := New(Options{TripFiles: []string{f}, BatchSize: 10}, sqlDB, nil, nil, pub).Run(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.True(t, citybike.IsValidation(err))
	assert.Equal(t, citybike.ExitValidate, citybike.ExitCodeForError(err))
	assert.Contains(t, err.Error(), "validate: ")
	assert.Equal(t, "validate", pub.runs[0].Stage)
}

func TestRun_MissingTripFile(t *testing.T) {
	_, err := New(Options{TripFiles: []string{"/does/not/exist.csv"}, BatchSize: 10}, nil, nil, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, citybike.ExitLoad, citybike.ExitCodeForError(err))
}

func TestRun_MissingStationFile(t *testing.T) {
	files, _ := fixture(t)
	_, err := New(Options{TripFiles: files, StationFile: "/does/not/exist.csv", BatchSize: 10, DryRun: true}, nil, nil, nil, nil).
		Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, citybike.StageLoad, citybike.StageOf(err))
}

func TestRun_DryRunSkipsDatabase(t *testing.T) {
	files, stations := fixture(t)
	pub := &fakePublisher{}
	p := New(Options{TripFiles: files, StationFile: stations, BatchSize: 10, DryRun: true}, nil, nil, nil, pub)
	p.now = func() time.Time { return time.Date(2021, 8, 1, 12, 0, 0, 0, time.UTC) }

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Cleaned)
	assert.Equal(t, 0, stats.Inserted)
	assert.Empty(t, pub.progress)
	assert.Equal(t, "completed", pub.runs[0].Status)
}

func TestRun_NoDatabase(t *testing.T) {
	files, _ := fixture(t)
	_, err := New(Options{TripFiles: files, BatchSize: 10}, nil, nil, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, citybike.ExitConnect, citybike.ExitCodeForError(err))
}
