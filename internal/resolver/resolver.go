package resolver

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
)

// Strategy selects how a stale-base update is reconciled against the current
// entity state.
type Strategy int

const (
	// StrategyMerge applies uncontended fields and records pending conflicts
	// for contended ones. The default.
	StrategyMerge Strategy = iota
	// StrategyLatestWins keeps the latest committed write: the stale proposal
	// is discarded and recorded as a resolved conflict for audit.
	StrategyLatestWins
	// StrategyFirstWins keeps the earliest writer's state. Same entity outcome
	// as latest_wins, distinguished only by the resolution note.
	StrategyFirstWins
	// StrategyStrict rejects the update outright with a version conflict.
	StrategyStrict
)

func (s Strategy) String() string {
	switch s {
	case StrategyMerge:
		return "merge"
	case StrategyLatestWins:
		return "latest_wins"
	case StrategyFirstWins:
		return "first_wins"
	case StrategyStrict:
		return "strict"
	}
	return "unknown"
}

// ParseStrategy maps a wire-format strategy name onto a Strategy. Empty input
// selects merge.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "merge":
		return StrategyMerge, nil
	case "latest_wins", "latest-wins":
		return StrategyLatestWins, nil
	case "first_wins", "first-wins":
		return StrategyFirstWins, nil
	case "strict":
		return StrategyStrict, nil
	}
	return StrategyMerge, errors.Newf("unknown conflict strategy %q", name)
}

// maxAttempts bounds the reconcile-and-retry loop under live contention.
const maxAttempts = 3

// UpdateRequest is a proposed entity mutation made against a base version the
// caller last observed.
type UpdateRequest struct {
	EntityID    string
	BaseVersion int64
	Updates     map[string]any
	Strategy    Strategy
	ActorID     string
	Evidence    string
	Source      string
}

// Resolver reconciles concurrent updates on top of the store's
// compare-and-swap primitive, deriving field contention from the provenance
// ledger.
type Resolver struct {
	db     *database.DBManager
	logger *zap.Logger
}

func New(db *database.DBManager, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{db: db, logger: logger}
}

// Apply attempts the update optimistically and reconciles per the request's
// strategy when the base version is stale. Pending conflicts in the result are
// partial success, not failure.
func (r *Resolver) Apply(ctx context.Context, project string, req UpdateRequest) (*apptype.UpdateResult, error) {
	if len(req.Updates) == 0 {
		return nil, errors.New("update requires at least one field")
	}
	updates := make(map[string]any, len(req.Updates))
	for field, value := range req.Updates {
		field = apptype.NormalizeField(field)
		if !apptype.ValidUpdateField(field) {
			return nil, errors.Newf("unknown update field %q", field)
		}
		updates[field] = value
	}

	prov := r.provenance(req, nil)
	entity, err := r.db.CompareAndSwap(ctx, project, req.EntityID, req.BaseVersion, updates, prov)
	if err == nil {
		metrics.Default().IncResolution(req.Strategy.String(), "applied")
		return &apptype.UpdateResult{Entity: entity, Applied: fieldNames(updates)}, nil
	}
	var vc *kgerr.VersionConflictError
	if !errors.As(err, &vc) {
		return nil, err
	}

	switch req.Strategy {
	case StrategyStrict:
		metrics.Default().IncResolution(req.Strategy.String(), "rejected")
		return nil, err
	case StrategyFirstWins:
		return r.discardStale(ctx, project, req, updates, vc, "first_wins: earlier write retained")
	case StrategyLatestWins:
		return r.discardStale(ctx, project, req, updates, vc, "latest_wins: proposed update discarded")
	default:
		return r.applyMerge(ctx, project, req, updates, vc)
	}
}

// discardStale keeps the stored entity untouched and records the stale
// proposal as an already-resolved whole-update conflict. latest_wins reads
// "the latest committed write wins"; first_wins reads "the earliest writer
// already won" — the entity outcome is identical, only the note differs.
func (r *Resolver) discardStale(ctx context.Context, project string, req UpdateRequest, updates map[string]any, vc *kgerr.VersionConflictError, note string) (*apptype.UpdateResult, error) {
	conflicts, err := r.db.InsertConflicts(ctx, project, []apptype.Conflict{{
		EntityID:       req.EntityID,
		Field:          apptype.WholeEntityField,
		ProposedValue:  updates,
		Status:         apptype.ConflictResolved,
		ResolutionNote: note,
		ResolvedBy:     req.ActorID,
	}})
	if err != nil {
		return nil, err
	}
	metrics.Default().IncResolution(req.Strategy.String(), "discarded")
	r.logger.Debug("stale update discarded",
		zap.String("entity", req.EntityID),
		zap.String("strategy", req.Strategy.String()),
		zap.Int64("base", req.BaseVersion),
		zap.Int64("current", vc.CurrentVersion))
	return &apptype.UpdateResult{Entity: vc.Current, Conflicts: conflicts}, nil
}

// applyMerge partitions the update by contention. Fields untouched since the
// caller's base version land via CAS at the current version; contended fields
// become pending conflicts for explicit resolution. Contention is derived
// from the ledger's changed-field sets, so no separate field history is kept.
func (r *Resolver) applyMerge(ctx context.Context, project string, req UpdateRequest, updates map[string]any, vc *kgerr.VersionConflictError) (*apptype.UpdateResult, error) {
	current := vc.Current
	for attempt := 0; attempt < maxAttempts; attempt++ {
		changedSince, err := r.db.FieldsChangedSince(ctx, project, req.EntityID, req.BaseVersion)
		if err != nil {
			return nil, err
		}
		_, allChanged := changedSince[apptype.WholeEntityField]

		applicable := make(map[string]any)
		drafts := make([]apptype.Conflict, 0, len(updates))
		satisfied := make([]string, 0)
		for field, value := range updates {
			if !allChanged && !fieldContended(changedSince, field) {
				applicable[field] = value
				continue
			}
			// A contended field already holding the proposed value needs
			// neither a mutation nor a conflict.
			if cur, ok := apptype.FieldValue(current, field); ok && apptype.ValuesEqual(cur, value) {
				satisfied = append(satisfied, field)
				continue
			}
			drafts = append(drafts, apptype.Conflict{
				EntityID:      req.EntityID,
				Field:         field,
				ProposedValue: value,
			})
		}

		if len(applicable) == 0 {
			pending, err := r.db.InsertConflicts(ctx, project, drafts)
			if err != nil {
				return nil, err
			}
			metrics.Default().IncResolution(req.Strategy.String(), "all_contended")
			return &apptype.UpdateResult{Entity: current, Applied: satisfied, Conflicts: pending}, nil
		}

		prov := r.provenance(req, map[string]any{"strategy": "merge", "baseVersion": req.BaseVersion})
		entity, err := r.db.CompareAndSwap(ctx, project, req.EntityID, current.Version, applicable, prov)
		if err == nil {
			// Conflict rows land only after the CAS commits; an abandoned
			// attempt leaves no rows behind, so one request records each
			// contended field at most once.
			pending, cerr := r.db.InsertConflicts(ctx, project, drafts)
			if cerr != nil {
				return nil, cerr
			}
			metrics.Default().IncResolution(req.Strategy.String(), "merged")
			return &apptype.UpdateResult{
				Entity:    entity,
				Applied:   append(fieldNames(applicable), satisfied...),
				Conflicts: pending,
			}, nil
		}
		var again *kgerr.VersionConflictError
		if !errors.As(err, &again) {
			return nil, err
		}
		r.logger.Debug("merge lost a race, recomputing contention",
			zap.String("entity", req.EntityID),
			zap.Int("attempt", attempt+1),
			zap.Int64("current", again.CurrentVersion))
		current = again.Current
	}
	metrics.Default().IncResolution(req.Strategy.String(), "exhausted")
	return nil, errors.Mark(
		errors.Newf("merge for entity %q lost %d consecutive races", req.EntityID, maxAttempts),
		kgerr.ErrRetryExhausted)
}

func (r *Resolver) provenance(req UpdateRequest, extra map[string]any) apptype.ProvenanceDraft {
	source := req.Source
	if source == "" {
		source = "update"
	}
	return apptype.ProvenanceDraft{
		Source:   source,
		Evidence: req.Evidence,
		ActorID:  req.ActorID,
		Metadata: extra,
	}
}

// fieldContended reports whether a proposed update field overlaps the set of
// fields changed since the base version. Whole-metadata writes contend with
// per-key writes and vice versa.
func fieldContended(changed map[string]struct{}, field string) bool {
	if _, ok := changed[field]; ok {
		return true
	}
	if field == apptype.FieldMetadata {
		for c := range changed {
			if strings.HasPrefix(c, apptype.MetadataPrefix) {
				return true
			}
		}
		return false
	}
	if strings.HasPrefix(field, apptype.MetadataPrefix) {
		_, ok := changed[apptype.FieldMetadata]
		return ok
	}
	return false
}

func fieldNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}
