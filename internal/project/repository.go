package project

import (
	"context"
	"errors"

	"github.com/KromaEnergia/contract-engine/internal/apperr"
	"github.com/KromaEnergia/contract-engine/internal/money"
	"github.com/KromaEnergia/contract-engine/internal/platform"
	"github.com/KromaEnergia/contract-engine/internal/store"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository struct {
	deps platform.Deps
}

func NewRepository(deps platform.Deps) *Repository {
	return &Repository{deps: deps.WithDefaults()}
}

type ProjectInput struct {
	TenantID string `json:"tenantId"`
	Code     string `json:"code" validate:"required,max=50"`
	Name     string `json:"name" validate:"required,max=200"`
}

// CreateTenant registers a tenant row. Provisioning itself belongs to the
// identity service; this is what the CLI and tests use to seed one.
func (r *Repository) CreateTenant(ctx context.Context, t *Tenant) error {
	if t.Name == "" {
		return apperr.Validation("project.CreateTenant", "name is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.DefaultCurrency == "" {
		t.DefaultCurrency = "USD"
	}
	if !money.Currencies[t.DefaultCurrency] {
		return apperr.Validation("project.CreateTenant", "unsupported currency %q", t.DefaultCurrency)
	}
	if t.DefaultRetentionPercent.Valid && !money.ValidPercent(t.DefaultRetentionPercent.Decimal) {
		return apperr.Validation("project.CreateTenant", "retention percent must be between 0 and 100")
	}
	now := r.deps.Clock.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	return store.Classify(r.deps.Store.DB(ctx).Create(t).Error)
}

// LoadTenant returns the acting tenant.
func LoadTenant(tx *gorm.DB, tc tenancy.Context) (*Tenant, error) {
	var t Tenant
	err := tx.Where("id = ?", tc.TenantID).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("project.LoadTenant", "tenant", tc.TenantID)
	}
	return &t, err
}

func (r *Repository) Tenant(ctx context.Context, tc tenancy.Context) (*Tenant, error) {
	return LoadTenant(r.deps.Store.DB(ctx), tc)
}

func (r *Repository) Create(ctx context.Context, tc tenancy.Context, in ProjectInput) (*Project, error) {
	const op = "project.Create"
	if err := tc.Valid(); err != nil {
		return nil, err
	}
	if err := platform.Validate(op, in); err != nil {
		return nil, err
	}
	p := &Project{TenantID: in.TenantID, Code: in.Code, Name: in.Name}
	err := r.deps.Store.InTx(ctx, func(tx *gorm.DB) error {
		t, err := LoadTenant(tx, tc)
		if err != nil {
			return err
		}
		return store.Insert(tx, tc, t.ID, p, r.deps.Clock.Now())
	})
	if err != nil {
		return nil, r.deps.Failed("project", err)
	}
	r.deps.Committed(ctx, platform.Event(tc, "project", p.ID, "created", nil, p, p.CreatedAt))
	return p, nil
}

// Find loads a project inside an existing transaction.
func Find(tx *gorm.DB, tc tenancy.Context, id string) (*Project, error) {
	var p Project
	if err := store.Find(tx, tc, "project", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) Get(ctx context.Context, tc tenancy.Context, id string) (*Project, error) {
	return Find(r.deps.Store.DB(ctx), tc, id)
}

func (r *Repository) List(ctx context.Context, tc tenancy.Context) ([]Project, error) {
	var list []Project
	err := r.deps.Store.DB(ctx).Scopes(tenancy.Scope(tc)).Order("code").Find(&list).Error
	return list, err
}
