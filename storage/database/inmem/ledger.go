package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/feeledger/core/ledger"
)

type ledgerRepository struct {
	db *ledgerTable
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func NewLedgerRepository(db *DB) ledger.Repository {
	return &ledgerRepository{db: db.ledger}
}

// findOpen returns the ledger of a student for a period, cancelled ones excluded. Callers hold the lock.
func (repo *ledgerRepository) findOpen(studentRef, periodRef string, exclude uuid.UUID) *ledger.Ledger {
	for _, l := range repo.db.t {
		if l.ID != exclude && l.StudentRef == studentRef && l.PeriodRef == periodRef && l.Status != ledger.StatusCancelled {
			return l
		}
	}
	return nil
}

// checkRefs makes sure l's payment references are not used by another payment. Callers hold the lock.
func (repo *ledgerRepository) checkRefs(l ledger.Ledger) error {
	for _, p := range l.Payments {
		if p.Reference == "" {
			continue
		}
		if key, ok := repo.db.paymentRefs[p.Reference]; ok && (key.ledgerID != l.ID || key.paymentID != p.ID) {
			return ledger.ErrDuplicatePaymentReference
		}
	}
	return nil
}

// save stores a copy of l with its version bumped. Callers hold the lock.
func (repo *ledgerRepository) save(l ledger.Ledger) ledger.Ledger {
	l.Version++
	c := l.Clone()
	repo.db.t[l.ID] = &c
	for _, p := range l.Payments {
		if p.Reference != "" {
			repo.db.paymentRefs[p.Reference] = paymentKey{ledgerID: l.ID, paymentID: p.ID}
		}
	}
	return c.Clone()
}

func (repo *ledgerRepository) CreateLedger(_ context.Context, l ledger.Ledger) (ledger.Ledger, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if repo.findOpen(l.StudentRef, l.PeriodRef, uuid.Nil) != nil {
		return ledger.Ledger{}, ledger.ErrDuplicateLedger
	}
	if err := repo.checkRefs(l); err != nil {
		return ledger.Ledger{}, err
	}
	l.Version = 0
	return repo.save(l), nil
}

func (repo *ledgerRepository) ReplaceLedger(_ context.Context, old, l ledger.Ledger) (ledger.Ledger, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	stored, ok := repo.db.t[old.ID]
	if !ok {
		return ledger.Ledger{}, ledger.ErrLedgerNotFound
	}
	if stored.Version != old.Version {
		return ledger.Ledger{}, ledger.ErrConcurrentUpdate
	}
	if repo.findOpen(l.StudentRef, l.PeriodRef, old.ID) != nil {
		return ledger.Ledger{}, ledger.ErrDuplicateLedger
	}

	repo.save(old)
	l.Version = 0
	return repo.save(l), nil
}

func (repo *ledgerRepository) UpdateLedger(_ context.Context, l ledger.Ledger) (ledger.Ledger, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	stored, ok := repo.db.t[l.ID]
	if !ok {
		return ledger.Ledger{}, ledger.ErrLedgerNotFound
	}
	if stored.Version != l.Version {
		return ledger.Ledger{}, ledger.ErrConcurrentUpdate
	}
	if err := repo.checkRefs(l); err != nil {
		return ledger.Ledger{}, err
	}
	return repo.save(l), nil
}

func (repo *ledgerRepository) GetLedger(_ context.Context, id uuid.UUID) (ledger.Ledger, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if l, ok := repo.db.t[id]; ok {
		return l.Clone(), nil
	}
	return ledger.Ledger{}, ledger.ErrLedgerNotFound
}

func (repo *ledgerRepository) GetLedgerFor(_ context.Context, studentRef, periodRef string) (ledger.Ledger, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if l := repo.findOpen(studentRef, periodRef, uuid.Nil); l != nil {
		return l.Clone(), nil
	}
	return ledger.Ledger{}, ledger.ErrLedgerNotFound
}

func (repo *ledgerRepository) QueryLedgers(_ context.Context, filter ledger.QueryFilter) ([]ledger.Ledger, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	ledgers := make([]ledger.Ledger, 0, len(repo.db.t))
	for _, l := range repo.db.t {
		if filter.Match(*l) {
			ledgers = append(ledgers, l.Clone())
		}
	}
	sort.Slice(ledgers, func(i, j int) bool {
		for _, ord := range filter.Ordering {
			a, b := ledgers[i], ledgers[j]
			if !ord.Ascending {
				a, b = b, a
			}
			switch ord.Field {
			case "student_ref":
				if a.StudentRef != b.StudentRef {
					return a.StudentRef < b.StudentRef
				}
			case "balance":
				if !a.Balance.Equal(b.Balance) {
					return a.Balance.LessThan(b.Balance)
				}
			case "next_due_date":
				if !a.NextDueDate.Equal(b.NextDueDate) {
					return a.NextDueDate.Before(b.NextDueDate)
				}
			}
		}
		return ledgers[i].CreatedAt.Before(ledgers[j].CreatedAt)
	})
	return ledgers, nil
}

func (repo *ledgerRepository) GetPaymentByReference(_ context.Context, reference string) (ledger.Payment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	key, ok := repo.db.paymentRefs[reference]
	if !ok {
		return ledger.Payment{}, ledger.ErrPaymentNotFound
	}
	if l, ok := repo.db.t[key.ledgerID]; ok {
		if p, ok := l.Clone().Payment(key.paymentID); ok {
			return p, nil
		}
	}
	return ledger.Payment{}, ledger.ErrPaymentNotFound
}
