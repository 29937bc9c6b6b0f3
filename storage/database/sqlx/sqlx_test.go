package sqlxrepos

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/ledger"
	"github.com/trezcool/feeledger/storage/database"
	"github.com/trezcool/feeledger/storage/database/repotest"
)

// newRepos connects to TEST_DATABASE_URL, migrates it and empties the tables.
func newRepos(t *testing.T) repotest.Repos {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	db, err := sqlx.Connect("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db.DB))
	_, err = db.Exec(`TRUNCATE payment, student_ledger, fee_definition`)
	require.NoError(t, err)

	return repotest.Repos{
		Definitions: NewFeeDefinitionRepository(db),
		Ledgers:     NewLedgerRepository(db),
	}
}

func TestDefinitionRepository(t *testing.T) {
	repotest.RunDefinitionRepository(t, newRepos)
}

func TestLedgerRepository(t *testing.T) {
	repotest.RunLedgerRepository(t, newRepos)
}

func TestQueryLedgers_unknownOrdering(t *testing.T) {
	repos := newRepos(t)
	_, err := repos.Ledgers.QueryLedgers(context.Background(), ledger.QueryFilter{
		Ordering: []core.DBOrdering{{Field: "balance; DROP TABLE payment"}},
	})
	assert.EqualError(t, err, `cannot order ledgers by "balance; DROP TABLE payment"`)
}

func TestLedgerRepository_trapUniqueErr(t *testing.T) {
	repo := ledgerRepository{}
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "open ledger", err: errors.Wrap(&pq.Error{Code: uniqueViolation, Constraint: ledgerOpenIndex}, "exec"), want: ledger.ErrDuplicateLedger},
		{name: "payment reference", err: &pq.Error{Code: uniqueViolation, Constraint: paymentReferenceIndex}, want: ledger.ErrDuplicatePaymentReference},
		{name: "other index", err: &pq.Error{Code: uniqueViolation, Constraint: "payment_pkey"}},
		{name: "foreign key", err: &pq.Error{Code: "23503", Constraint: ledgerOpenIndex}},
		{name: "not a pq error", err: sql.ErrConnDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.trapUniqueErr(tt.err, "saving ledger")
			if tt.want != nil {
				assert.Equal(t, tt.want, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), "saving ledger")
		})
	}
}
