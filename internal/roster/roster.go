// Package roster holds the in-memory set of enrolled identities that the
// matcher compares probes against.
//
// Readers take an immutable Snapshot; enrollment builds a new snapshot and
// swaps it in atomically, so a concurrent match never sees a half-updated list.
package roster

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/presence/internal/apperror"
	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/observability"
)

// Store persists identities. UpsertIdentity assigns an ID when ident.ID is zero
// and replaces name and embedding when the ID already exists.
type Store interface {
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	UpsertIdentity(ctx context.Context, ident *models.Identity) error
}

// Snapshot is an immutable view of the roster. Identities are sorted by ID.
type Snapshot struct {
	Version    uint64
	Dim        int
	Identities []models.Identity
}

// Lookup finds an identity by ID.
func (s *Snapshot) Lookup(id int64) (models.Identity, bool) {
	i := sort.Search(len(s.Identities), func(i int) bool { return s.Identities[i].ID >= id })
	if i < len(s.Identities) && s.Identities[i].ID == id {
		return s.Identities[i], true
	}
	return models.Identity{}, false
}

type Roster struct {
	store   Store
	dim     int
	timeout time.Duration

	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Snapshot]
}

// New returns an empty roster. Call Load before serving matches.
func New(store Store, dim int, timeout time.Duration) *Roster {
	r := &Roster{store: store, dim: dim, timeout: timeout}
	r.current.Store(&Snapshot{Dim: dim})
	return r
}

// Load reads every identity from the store. Used once at startup.
func (r *Roster) Load(ctx context.Context) error {
	return r.Reload(ctx)
}

// Reload replaces the snapshot with the store's current contents.
// On failure the previous snapshot stays active.
func (r *Roster) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	idents, err := r.store.ListIdentities(opCtx)
	if err != nil {
		observability.PersistenceFailures.WithLabelValues("list_identities").Inc()
		return apperror.Persistence(err, "load roster")
	}

	kept := make([]models.Identity, 0, len(idents))
	for _, ident := range idents {
		if len(ident.Embedding) != r.dim {
			slog.Warn("skipping identity with mismatched embedding",
				"identity_id", ident.ID, "dim", len(ident.Embedding), "want", r.dim)
			continue
		}
		kept = append(kept, ident)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })

	r.swap(kept)
	slog.Info("roster loaded", "identities", len(kept), "version", r.current.Load().Version)
	return nil
}

// Add persists a new or replacing identity, then publishes a snapshot that
// contains it. If persistence fails the active snapshot is unchanged.
func (r *Roster) Add(ctx context.Context, ident models.Identity) (models.Identity, error) {
	ident.Name = strings.TrimSpace(ident.Name)
	if ident.Name == "" {
		return models.Identity{}, apperror.Validation("name is required")
	}
	if ident.ID < 0 {
		return models.Identity{}, apperror.Validation("identity id must be positive")
	}
	if err := r.ValidateEmbedding(ident.Embedding); err != nil {
		return models.Identity{}, err
	}
	ident.Embedding = append([]float32(nil), ident.Embedding...)

	r.mu.Lock()
	defer r.mu.Unlock()

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.store.UpsertIdentity(opCtx, &ident); err != nil {
		observability.PersistenceFailures.WithLabelValues("upsert_identity").Inc()
		return models.Identity{}, apperror.Persistence(err, "store identity")
	}

	prev := r.current.Load().Identities
	next := make([]models.Identity, 0, len(prev)+1)
	replaced := false
	for _, existing := range prev {
		if existing.ID == ident.ID {
			next = append(next, ident)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, ident)
		sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
	}

	r.swap(next)
	slog.Info("identity enrolled", "identity_id", ident.ID, "name", ident.Name, "replaced", replaced)
	return ident, nil
}

// ValidateEmbedding checks dimensionality and that every component is finite.
func (r *Roster) ValidateEmbedding(emb []float32) error {
	if len(emb) != r.dim {
		return apperror.DimensionMismatch(len(emb), r.dim)
	}
	for i, v := range emb {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return apperror.Validation("embedding component %d is not finite", i)
		}
	}
	return nil
}

// Snapshot returns the active snapshot. Callers must not modify it.
func (r *Roster) Snapshot() *Snapshot {
	return r.current.Load()
}

func (r *Roster) Lookup(id int64) (models.Identity, bool) {
	return r.current.Load().Lookup(id)
}

func (r *Roster) Len() int {
	return len(r.current.Load().Identities)
}

func (r *Roster) Dim() int {
	return r.dim
}

func (r *Roster) swap(idents []models.Identity) {
	prev := r.current.Load()
	r.current.Store(&Snapshot{
		Version:    prev.Version + 1,
		Dim:        r.dim,
		Identities: idents,
	})
	observability.RosterSize.Set(float64(len(idents)))
}

func (r *Roster) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("roster v%d (%d identities, dim %d)", s.Version, len(s.Identities), s.Dim)
}
