package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/feeledger/core"
)

type BatchFailure struct {
	Ref  string
	Code string
	Err  error
}

// BatchResult summarizes a batch job. A failed item never stops the others.
type BatchResult struct {
	Succeeded int
	Failed    int
	Failures  []BatchFailure
}

// runBatch calls fn for every ref on a bounded pool of workers.
func (svc *Service) runBatch(ctx context.Context, job string, refs []string, fn func(ctx context.Context, ref string) error) BatchResult {
	var (
		mu  sync.Mutex
		res BatchResult
		g   errgroup.Group
	)
	g.SetLimit(svc.workers)

	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			err := fn(ctx, ref)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Failures = append(res.Failures, BatchFailure{Ref: ref, Code: ErrorCode(err), Err: err})
				svc.log.Error(fmt.Sprintf("%s: %s failed: %v", job, ref, err), err)
				return nil
			}
			res.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Ref < res.Failures[j].Ref })
	svc.log.Info(fmt.Sprintf("%s: %d succeeded, %d failed", job, res.Succeeded, res.Failed))
	return res
}

// AssignFeeToRoster assigns a definition to every student of a roster.
func (svc *Service) AssignFeeToRoster(ctx context.Context, studentRefs []string, definitionID uuid.UUID, opts AssignOptions) (BatchResult, error) {
	def, err := svc.catalog.Get(ctx, definitionID)
	if err != nil {
		return BatchResult{}, err
	}
	if opts.AssignedBy.ID == "" {
		opts.AssignedBy = core.SystemActor
	}
	return svc.runBatch(ctx, "assign fee", studentRefs, func(ctx context.Context, ref string) error {
		_, err := svc.assign(ctx, ref, def, opts)
		return err
	}), nil
}

// RecomputeAllLateFees refreshes the late fees of every ledger still collecting payments.
func (svc *Service) RecomputeAllLateFees(ctx context.Context, asOf time.Time) (BatchResult, error) {
	ledgers, err := svc.repo.QueryLedgers(ctx, QueryFilter{Statuses: OpenStatuses})
	if err != nil {
		return BatchResult{}, err
	}
	refs := make([]string, 0, len(ledgers))
	for _, l := range ledgers {
		refs = append(refs, l.ID.String())
	}
	return svc.runBatch(ctx, "recompute late fees", refs, func(ctx context.Context, ref string) error {
		_, err := svc.RecomputeLateFees(ctx, uuid.MustParse(ref), asOf)
		return err
	}), nil
}
