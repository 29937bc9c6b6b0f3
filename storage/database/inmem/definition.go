package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/feeledger/core/fee"
)

type definitionRepository struct {
	db *definitionTable
}

var _ fee.Repository = (*definitionRepository)(nil) // interface compliance check

func NewFeeDefinitionRepository(db *DB) fee.Repository {
	return &definitionRepository{db: db.definition}
}

func cloneDefinition(d fee.Definition) fee.Definition {
	c := d
	c.Components = append([]fee.Component(nil), d.Components...)
	c.Plans = make([]fee.Plan, len(d.Plans))
	for i, p := range d.Plans {
		p.Entries = append([]fee.PlanEntry(nil), p.Entries...)
		c.Plans[i] = p
	}
	c.DiscountRules = make([]fee.DiscountRule, len(d.DiscountRules))
	for i, r := range d.DiscountRules {
		r.Components = append([]string(nil), r.Components...)
		c.DiscountRules[i] = r
	}
	return c
}

func (repo *definitionRepository) CreateDefinition(_ context.Context, def fee.Definition) (fee.Definition, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	c := cloneDefinition(def)
	repo.db.t[def.ID] = &c
	return cloneDefinition(c), nil
}

func (repo *definitionRepository) UpdateDefinition(_ context.Context, def fee.Definition) (fee.Definition, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.t[def.ID]
	if !ok {
		return fee.Definition{}, fee.ErrDefinitionNotFound
	}
	if orig.Status != fee.StatusDraft {
		return fee.Definition{}, fee.ErrDefinitionPublished
	}
	c := cloneDefinition(def)
	repo.db.t[def.ID] = &c
	return cloneDefinition(c), nil
}

func (repo *definitionRepository) PublishDefinition(_ context.Context, def fee.Definition) (fee.Definition, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.t[def.ID]
	if !ok {
		return fee.Definition{}, fee.ErrDefinitionNotFound
	}
	if orig.Status != fee.StatusDraft {
		return fee.Definition{}, fee.ErrDefinitionPublished
	}
	for _, d := range repo.db.t {
		if d.IsActive() && d.ClassRef == def.ClassRef && d.PeriodRef == def.PeriodRef {
			d.Status = fee.StatusRetired
			d.UpdatedAt = def.PublishedAt
		}
	}
	c := cloneDefinition(def)
	repo.db.t[def.ID] = &c
	return cloneDefinition(c), nil
}

func (repo *definitionRepository) RetireDefinition(_ context.Context, id uuid.UUID, at time.Time) (fee.Definition, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	d, ok := repo.db.t[id]
	if !ok {
		return fee.Definition{}, fee.ErrDefinitionNotFound
	}
	d.Status = fee.StatusRetired
	d.UpdatedAt = at
	return cloneDefinition(*d), nil
}

func (repo *definitionRepository) GetDefinition(_ context.Context, id uuid.UUID) (fee.Definition, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if d, ok := repo.db.t[id]; ok {
		return cloneDefinition(*d), nil
	}
	return fee.Definition{}, fee.ErrDefinitionNotFound
}

func (repo *definitionRepository) GetActiveDefinition(_ context.Context, classRef, periodRef string) (fee.Definition, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, d := range repo.db.t {
		if d.IsActive() && d.ClassRef == classRef && d.PeriodRef == periodRef {
			return cloneDefinition(*d), nil
		}
	}
	return fee.Definition{}, fee.ErrDefinitionNotFound
}

func (repo *definitionRepository) QueryDefinitions(_ context.Context, filter fee.QueryFilter) ([]fee.Definition, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	defs := make([]fee.Definition, 0, len(repo.db.t))
	for _, d := range repo.db.t {
		if filter.Match(*d) {
			defs = append(defs, cloneDefinition(*d))
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].CreatedAt.Before(defs[j].CreatedAt) })
	return defs, nil
}
