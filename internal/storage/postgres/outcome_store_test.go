package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

func TestRecordOutcomeInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewOutcomeStoreWithPool(mock, "")
	require.NoError(t, err)

	finished := time.Unix(1700000000, 0).UTC()
	rec := collector.OutcomeRecord{
		JobID:      "job-1",
		Tenant:     "tenant-a",
		Strategy:   collector.StrategyInventory,
		Status:     collector.OutcomeAborted,
		Reason:     collector.ReasonEmptyEntity,
		Entity:     "container_nodes",
		Entities:   2,
		FinishedAt: finished,
	}

	mock.ExpectExec("INSERT INTO collector_outcomes").
		WithArgs("job-1", "tenant-a", "inventory", "aborted", "empty_entity", "container_nodes", 2, "", "", finished).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordOutcome(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOutcomeWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewOutcomeStoreWithPool(mock, "ledger")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO ledger").WillReturnError(errors.New("connection reset"))
	err = store.RecordOutcome(context.Background(), collector.OutcomeRecord{JobID: "job-1"})
	require.ErrorContains(t, err, "insert outcome")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOutcomeRequiresJobID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewOutcomeStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.RecordOutcome(context.Background(), collector.OutcomeRecord{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaAndPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewOutcomeStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS collector_outcomes").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("down"))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.Ping(context.Background()))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	_, err := NewOutcomeStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewOutcomeStoreWithPool(mock, "outcomes; DROP TABLE jobs")
	require.Error(t, err)

	_, err = NewOutcomeStore(context.Background(), Config{})
	require.Error(t, err)
}
