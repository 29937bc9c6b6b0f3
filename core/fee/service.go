package fee

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/feeledger/core"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrDefinitionNotFound   = errors.New("fee definition not found")
	ErrDefinitionPublished  = errors.New("fee definition is already published")
	ErrDefinitionNotActive  = errors.New("fee definition is not active")
	ErrDiscountRuleNotFound = errors.New("discount rule not found")
	ErrUnknownComponent     = errors.New("unknown optional fee component")
)

type (
	Repository interface {
		CreateDefinition(ctx context.Context, def Definition) (Definition, error)
		// UpdateDefinition must refuse to change a definition that is no longer a draft.
		UpdateDefinition(ctx context.Context, def Definition) (Definition, error)
		// PublishDefinition stores def as active and retires the active definition of the same
		// (class, period) in a single step.
		PublishDefinition(ctx context.Context, def Definition) (Definition, error)
		RetireDefinition(ctx context.Context, id uuid.UUID, at time.Time) (Definition, error)
		GetDefinition(ctx context.Context, id uuid.UUID) (Definition, error)
		GetActiveDefinition(ctx context.Context, classRef, periodRef string) (Definition, error)
		QueryDefinitions(ctx context.Context, filter QueryFilter) ([]Definition, error)
	}

	// Service is the fee definition catalog.
	Service struct {
		repo Repository
		log  core.Logger
	}
)

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{repo: repo, log: logger}
}

func (svc *Service) clean(nd NewDefinition) NewDefinition {
	nd.ClassRef = core.CleanString(nd.ClassRef)
	nd.PeriodRef = core.CleanString(nd.PeriodRef)
	nd.Name = core.CleanString(nd.Name)
	nd.Currency = core.CleanString(nd.Currency)
	for i := range nd.Components {
		nd.Components[i].Name = core.CleanString(nd.Components[i].Name)
	}
	for i := range nd.Plans {
		nd.Plans[i].Name = core.CleanString(nd.Plans[i].Name)
		for j := range nd.Plans[i].Entries {
			if nd.Plans[i].Entries[j].Name == "" {
				nd.Plans[i].Entries[j].Name = fmt.Sprintf("Installment %d", nd.Plans[i].Entries[j].Number)
			}
		}
	}
	if nd.LateFeePolicy.Type != "" && nd.LateFeePolicy.StartMode == "" {
		nd.LateFeePolicy.StartMode = StartAfterGrace
	}
	if !nd.LateFeePolicy.FixedDate.IsZero() {
		nd.LateFeePolicy.FixedDate = core.Date(nd.LateFeePolicy.FixedDate)
	}
	return nd
}

// Create validates nd and stores it as a draft.
func (svc *Service) Create(ctx context.Context, nd NewDefinition) (Definition, error) {
	nd = svc.clean(nd)
	if err := core.CheckStruct(nd); err != nil {
		return Definition{}, err
	}

	now := NowFunc().UTC()
	def := Definition{
		ID:            uuid.New(),
		ClassRef:      nd.ClassRef,
		PeriodRef:     nd.PeriodRef,
		Name:          nd.Name,
		Currency:      nd.Currency,
		Components:    nd.Components,
		Plans:         nd.Plans,
		DiscountRules: nd.DiscountRules,
		LateFeePolicy: nd.LateFeePolicy,
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	def, err := svc.repo.CreateDefinition(ctx, def)
	if err != nil {
		return Definition{}, errors.Wrap(err, "creating fee definition")
	}
	return def, nil
}

// UpdateDraft replaces the content of a draft definition.
func (svc *Service) UpdateDraft(ctx context.Context, id uuid.UUID, nd NewDefinition) (Definition, error) {
	def, err := svc.repo.GetDefinition(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	if def.Status != StatusDraft {
		return Definition{}, ErrDefinitionPublished
	}

	nd = svc.clean(nd)
	if err := core.CheckStruct(nd); err != nil {
		return Definition{}, err
	}
	def.ClassRef = nd.ClassRef
	def.PeriodRef = nd.PeriodRef
	def.Name = nd.Name
	def.Currency = nd.Currency
	def.Components = nd.Components
	def.Plans = nd.Plans
	def.DiscountRules = nd.DiscountRules
	def.LateFeePolicy = nd.LateFeePolicy
	def.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateDefinition(ctx, def)
}

// Publish activates a draft. The definition previously active for the same class and period is retired.
func (svc *Service) Publish(ctx context.Context, id uuid.UUID) (Definition, error) {
	def, err := svc.repo.GetDefinition(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	if def.Status != StatusDraft {
		return Definition{}, ErrDefinitionPublished
	}

	now := NowFunc().UTC()
	def.Status = StatusActive
	def.PublishedAt = now
	def.UpdatedAt = now
	if def, err = svc.repo.PublishDefinition(ctx, def); err != nil {
		return Definition{}, errors.Wrap(err, "publishing fee definition")
	}
	svc.log.Info(fmt.Sprintf("fee definition %s published for %s/%s", def.ID, def.ClassRef, def.PeriodRef))
	return def, nil
}

// Retire withdraws an active definition. Ledgers already assigned from it are unaffected.
func (svc *Service) Retire(ctx context.Context, id uuid.UUID) (Definition, error) {
	def, err := svc.repo.GetDefinition(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	if !def.IsActive() {
		return Definition{}, ErrDefinitionNotActive
	}
	return svc.repo.RetireDefinition(ctx, id, NowFunc().UTC())
}

func (svc *Service) Get(ctx context.Context, id uuid.UUID) (Definition, error) {
	return svc.repo.GetDefinition(ctx, id)
}

// GetActive returns the definition currently in force for a class and period.
func (svc *Service) GetActive(ctx context.Context, classRef, periodRef string) (Definition, error) {
	return svc.repo.GetActiveDefinition(ctx, core.CleanString(classRef), core.CleanString(periodRef))
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Definition, error) {
	return svc.repo.QueryDefinitions(ctx, filter)
}
