package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/feeledger/core/fee"
)

const definitionColumns = `id, class_ref, period_ref, name, currency, components, plans, discount_rules,
	late_fee_policy, status, created_at, updated_at, published_at`

type definitionRow struct {
	ID            uuid.UUID `db:"id"`
	ClassRef      string    `db:"class_ref"`
	PeriodRef     string    `db:"period_ref"`
	Name          string    `db:"name"`
	Currency      string    `db:"currency"`
	Components    string    `db:"components"`
	Plans         string    `db:"plans"`
	DiscountRules string    `db:"discount_rules"`
	LateFeePolicy string    `db:"late_fee_policy"`
	Status        string    `db:"status"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
	PublishedAt   null.Time `db:"published_at"`
}

type definitionRepository struct {
	db *sqlx.DB
}

var _ fee.Repository = (*definitionRepository)(nil) // interface compliance check

func NewFeeDefinitionRepository(db *sqlx.DB) fee.Repository {
	return &definitionRepository{db: db}
}

func (repo definitionRepository) toRow(def fee.Definition) (definitionRow, error) {
	row := definitionRow{
		ID:          def.ID,
		ClassRef:    def.ClassRef,
		PeriodRef:   def.PeriodRef,
		Name:        def.Name,
		Currency:    def.Currency,
		Status:      string(def.Status),
		CreatedAt:   def.CreatedAt.UTC(),
		UpdatedAt:   def.UpdatedAt.UTC(),
		PublishedAt: null.NewTime(def.PublishedAt.UTC(), !def.PublishedAt.IsZero()),
	}
	var err error
	if row.Components, err = encode(def.Components); err != nil {
		return row, err
	}
	if row.Plans, err = encode(def.Plans); err != nil {
		return row, err
	}
	if def.DiscountRules == nil {
		def.DiscountRules = []fee.DiscountRule{}
	}
	if row.DiscountRules, err = encode(def.DiscountRules); err != nil {
		return row, err
	}
	row.LateFeePolicy, err = encode(def.LateFeePolicy)
	return row, err
}

func (repo definitionRepository) fromRow(row definitionRow) (fee.Definition, error) {
	def := fee.Definition{
		ID:          row.ID,
		ClassRef:    row.ClassRef,
		PeriodRef:   row.PeriodRef,
		Name:        row.Name,
		Currency:    row.Currency,
		Status:      fee.Status(row.Status),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
		PublishedAt: row.PublishedAt.Time.UTC(),
	}
	if !row.PublishedAt.Valid {
		def.PublishedAt = time.Time{}
	}
	for _, col := range []struct {
		src string
		dst interface{}
	}{
		{row.Components, &def.Components},
		{row.Plans, &def.Plans},
		{row.DiscountRules, &def.DiscountRules},
		{row.LateFeePolicy, &def.LateFeePolicy},
	} {
		if err := decode(col.src, col.dst); err != nil {
			return fee.Definition{}, err
		}
	}
	return def, nil
}

// trapNoRowsErr maps psql "no rows" err to fee.ErrDefinitionNotFound
func (repo definitionRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return fee.ErrDefinitionNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo definitionRepository) CreateDefinition(ctx context.Context, def fee.Definition) (fee.Definition, error) {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	row, err := repo.toRow(def)
	if err != nil {
		return fee.Definition{}, err
	}
	q := `INSERT INTO fee_definition (` + definitionColumns + `) VALUES (
		:id, :class_ref, :period_ref, :name, :currency, :components, :plans, :discount_rules,
		:late_fee_policy, :status, :created_at, :updated_at, :published_at)`
	if _, err = repo.db.NamedExecContext(ctx, q, row); err != nil {
		return fee.Definition{}, errors.Wrap(err, "inserting fee definition")
	}
	return def, nil
}

func (repo definitionRepository) UpdateDefinition(ctx context.Context, def fee.Definition) (fee.Definition, error) {
	row, err := repo.toRow(def)
	if err != nil {
		return fee.Definition{}, err
	}
	q := `UPDATE fee_definition SET class_ref = :class_ref, period_ref = :period_ref, name = :name,
		currency = :currency, components = :components, plans = :plans, discount_rules = :discount_rules,
		late_fee_policy = :late_fee_policy, updated_at = :updated_at
		WHERE id = :id AND status = 'draft'`
	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fee.Definition{}, errors.Wrap(err, "updating fee definition")
	}
	if err = checkAffected(res, fee.ErrDefinitionPublished); err != nil {
		return fee.Definition{}, err
	}
	return def, nil
}

func (repo definitionRepository) PublishDefinition(ctx context.Context, def fee.Definition) (fee.Definition, error) {
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE fee_definition SET status = 'retired', updated_at = $1
			WHERE class_ref = $2 AND period_ref = $3 AND status = 'active'`,
			def.PublishedAt.UTC(), def.ClassRef, def.PeriodRef,
		); err != nil {
			return errors.Wrap(err, "retiring active fee definition")
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE fee_definition SET status = 'active', published_at = $1, updated_at = $1
			WHERE id = $2 AND status = 'draft'`,
			def.PublishedAt.UTC(), def.ID,
		)
		if err != nil {
			return errors.Wrap(err, "activating fee definition")
		}
		return checkAffected(res, fee.ErrDefinitionPublished)
	})
	if err != nil {
		return fee.Definition{}, err
	}
	return def, nil
}

func (repo definitionRepository) RetireDefinition(ctx context.Context, id uuid.UUID, at time.Time) (fee.Definition, error) {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE fee_definition SET status = 'retired', updated_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fee.Definition{}, errors.Wrap(err, "retiring fee definition")
	}
	if err = checkAffected(res, fee.ErrDefinitionNotFound); err != nil {
		return fee.Definition{}, err
	}
	return repo.GetDefinition(ctx, id)
}

func (repo definitionRepository) get(ctx context.Context, msg, where string, args ...interface{}) (fee.Definition, error) {
	var row definitionRow
	q := `SELECT ` + definitionColumns + ` FROM fee_definition WHERE ` + where
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		return fee.Definition{}, repo.trapNoRowsErr(err, msg)
	}
	return repo.fromRow(row)
}

func (repo definitionRepository) GetDefinition(ctx context.Context, id uuid.UUID) (fee.Definition, error) {
	return repo.get(ctx, "getting fee definition", "id = $1", id)
}

func (repo definitionRepository) GetActiveDefinition(ctx context.Context, classRef, periodRef string) (fee.Definition, error) {
	return repo.get(ctx, "getting active fee definition",
		"class_ref = $1 AND period_ref = $2 AND status = 'active'", classRef, periodRef)
}

func (repo definitionRepository) QueryDefinitions(ctx context.Context, filter fee.QueryFilter) ([]fee.Definition, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.ClassRef != "" {
		conds = append(conds, "class_ref = ?")
		args = append(args, filter.ClassRef)
	}
	if filter.PeriodRef != "" {
		conds = append(conds, "period_ref = ?")
		args = append(args, filter.PeriodRef)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		conds = append(conds, "status IN (?)")
		args = append(args, statuses)
	}

	q := `SELECT ` + definitionColumns + ` FROM fee_definition`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY created_at`

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "building fee definition query")
	}
	var rows []definitionRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying fee definitions")
	}

	defs := make([]fee.Definition, 0, len(rows))
	for _, row := range rows {
		def, err := repo.fromRow(row)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
