// Package sqlxrepos implements the repositories on PostgreSQL with sqlx.
// JSON columns are encoded with goccy/go-json; nullable columns use volatiletech/null.
package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/feeledger/core"
)

const uniqueViolation = "23505"

// constraintViolated returns the name of the unique index err violates, if any.
func constraintViolated(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// inTx runs fn in a transaction, rolled back when fn fails.
func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func encode(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encoding json column")
	}
	return string(b), nil
}

func decode(s string, v interface{}) error {
	if s == "" {
		return nil
	}
	return errors.Wrap(json.Unmarshal([]byte(s), v), "decoding json column")
}

func actorFrom(id, name null.String) core.Actor {
	return core.Actor{ID: id.String, Name: name.String}
}

// checkAffected maps "0 rows updated" to errNone.
func checkAffected(res sql.Result, errNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return errNone
	}
	return nil
}
