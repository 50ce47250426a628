package resolve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"karavan/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CatalogStore is the slice of the catalog data store the resolver needs.
// Find methods return nil without error when nothing matches.
type CatalogStore interface {
	FindCategoryByName(ctx context.Context, ownerID, name string) (*models.Category, error)
	CreateCategory(ctx context.Context, c *models.Category) error
	FindFamilyByName(ctx context.Context, ownerID, name string) (*models.Family, error)
	CreateFamily(ctx context.Context, f *models.Family) error
	FindAttributeByName(ctx context.Context, ownerID, name string) (*models.Attribute, error)
	CreateAttribute(ctx context.Context, a *models.Attribute) error
}

type attrEntry struct {
	id  string
	typ models.AttributeType
}

// Resolver looks up or creates catalog entities referenced by rows, caching
// results for the remainder of one run. First creation per cache key is
// serialized so concurrent rows in a batch resolve a new name to exactly
// one id.
type Resolver struct {
	store   CatalogStore
	ownerID string
	logger  *zerolog.Logger

	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	categories map[string]string
	families   map[string]string
	attributes map[string]attrEntry
}

// NewResolver builds a resolver scoped to one execution and one owner.
func NewResolver(store CatalogStore, ownerID string, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		store:      store,
		ownerID:    ownerID,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
		categories: make(map[string]string),
		families:   make(map[string]string),
		attributes: make(map[string]attrEntry),
	}
}

// lockKey serializes resolution per cache key; the returned func unlocks.
func (r *Resolver) lockKey(key string) func() {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Category resolves a category name to its id, creating it when absent.
func (r *Resolver) Category(ctx context.Context, name string) (string, error) {
	unlock := r.lockKey("category:" + name)
	defer unlock()

	r.mu.Lock()
	id, ok := r.categories[name]
	r.mu.Unlock()
	if ok {
		return id, nil
	}

	existing, err := r.store.FindCategoryByName(ctx, r.ownerID, name)
	if err != nil {
		return "", fmt.Errorf("find category %q: %w", name, err)
	}
	if existing == nil {
		created := &models.Category{
			ID:        uuid.NewString(),
			OwnerID:   r.ownerID,
			Name:      name,
			CreatedAt: time.Now(),
		}
		if err := r.store.CreateCategory(ctx, created); err != nil {
			return "", fmt.Errorf("create category %q: %w", name, err)
		}
		r.logger.Debug().Str("category", name).Str("id", created.ID).Msg("created category")
		existing = created
	}

	r.mu.Lock()
	r.categories[name] = existing.ID
	r.mu.Unlock()
	return existing.ID, nil
}

// Family resolves a family name to its id, creating it when absent.
func (r *Resolver) Family(ctx context.Context, name string) (string, error) {
	unlock := r.lockKey("family:" + name)
	defer unlock()

	r.mu.Lock()
	id, ok := r.families[name]
	r.mu.Unlock()
	if ok {
		return id, nil
	}

	existing, err := r.store.FindFamilyByName(ctx, r.ownerID, name)
	if err != nil {
		return "", fmt.Errorf("find family %q: %w", name, err)
	}
	if existing == nil {
		created := &models.Family{
			ID:        uuid.NewString(),
			OwnerID:   r.ownerID,
			Name:      name,
			CreatedAt: time.Now(),
		}
		if err := r.store.CreateFamily(ctx, created); err != nil {
			return "", fmt.Errorf("create family %q: %w", name, err)
		}
		r.logger.Debug().Str("family", name).Str("id", created.ID).Msg("created family")
		existing = created
	}

	r.mu.Lock()
	r.families[name] = existing.ID
	r.mu.Unlock()
	return existing.ID, nil
}

// Attribute resolves an attribute column to its id. A new attribute gets a
// storage type inferred from the cell value; an existing one keeps its
// stored type, and an incompatible value only logs a warning — the import
// never fails a row on type grounds.
func (r *Resolver) Attribute(ctx context.Context, name, value string) (string, error) {
	unlock := r.lockKey("attribute:" + name)
	defer unlock()

	r.mu.Lock()
	entry, ok := r.attributes[name]
	r.mu.Unlock()
	if ok {
		r.checkCompatibility(name, entry.typ, value)
		return entry.id, nil
	}

	existing, err := r.store.FindAttributeByName(ctx, r.ownerID, name)
	if err != nil {
		return "", fmt.Errorf("find attribute %q: %w", name, err)
	}
	if existing == nil {
		created := &models.Attribute{
			ID:        uuid.NewString(),
			OwnerID:   r.ownerID,
			Name:      name,
			Type:      InferType(value),
			CreatedAt: time.Now(),
		}
		if err := r.store.CreateAttribute(ctx, created); err != nil {
			return "", fmt.Errorf("create attribute %q: %w", name, err)
		}
		r.logger.Debug().Str("attribute", name).Str("type", string(created.Type)).Msg("created attribute")
		existing = created
	} else {
		r.checkCompatibility(name, existing.Type, value)
	}

	r.mu.Lock()
	r.attributes[name] = attrEntry{id: existing.ID, typ: existing.Type}
	r.mu.Unlock()
	return existing.ID, nil
}

func (r *Resolver) checkCompatibility(name string, stored models.AttributeType, value string) {
	inferred := InferType(value)
	if !Compatible(stored, inferred) {
		r.logger.Warn().
			Str("attribute", name).
			Str("stored_type", string(stored)).
			Str("inferred_type", string(inferred)).
			Msg("attribute value does not match stored type, importing with stored type")
	}
}
