package inmemdb

import (
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/ledger"
)

type (
	DB struct {
		definition *definitionTable
		ledger     *ledgerTable
	}

	definitionTable struct {
		t     map[uuid.UUID]*fee.Definition
		mutex sync.RWMutex
	}

	// ledgerTable holds ledgers with their payments; paymentRefs indexes gateway references.
	ledgerTable struct {
		t           map[uuid.UUID]*ledger.Ledger
		paymentRefs map[string]paymentKey
		mutex       sync.RWMutex
	}

	paymentKey struct {
		ledgerID  uuid.UUID
		paymentID uuid.UUID
	}
)

func Open() *DB {
	return &DB{
		definition: &definitionTable{t: make(map[uuid.UUID]*fee.Definition)},
		ledger: &ledgerTable{
			t:           make(map[uuid.UUID]*ledger.Ledger),
			paymentRefs: make(map[string]paymentKey),
		},
	}
}
