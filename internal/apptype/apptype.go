package apptype

import "time"

// KnowledgeEntity is a versioned unit of knowledge content. Version starts at
// 1 and increases by exactly 1 on every accepted mutation.
type KnowledgeEntity struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	EntityType string         `json:"entityType"`
	Version    int64          `json:"version"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
	CreatedBy  string         `json:"createdBy,omitempty"`
	Tombstoned bool           `json:"tombstoned,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// EntityDraft carries the caller-supplied fields for entity creation.
// ID is optional; the store assigns one when absent.
type EntityDraft struct {
	ID         string         `json:"id,omitempty"`
	Content    string         `json:"content"`
	EntityType string         `json:"entityType"`
	CreatedBy  string         `json:"createdBy,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
}

// ProvenanceRecord explains why and how an entity reached a given state.
// Records are append-only; once written they are never mutated or deleted.
type ProvenanceRecord struct {
	ID            string         `json:"id"`
	EntityID      string         `json:"entityId"`
	Source        string         `json:"source"`
	Evidence      string         `json:"evidence,omitempty"`
	ActorID       string         `json:"actorId,omitempty"`
	EntityVersion int64          `json:"entityVersion"`
	ChangedFields []string       `json:"changedFields,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ProvenanceDraft is the ledger entry committed alongside an accepted
// mutation. EntityVersion and ChangedFields are filled in by the store.
type ProvenanceDraft struct {
	Source   string         `json:"source"`
	Evidence string         `json:"evidence,omitempty"`
	ActorID  string         `json:"actorId,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Conflict statuses. Conflicts close by status transition, never by deletion.
const (
	ConflictPending  = "pending"
	ConflictResolved = "resolved"
	ConflictRejected = "rejected"
)

// WholeEntityField marks a conflict that covers the entire proposed update
// rather than a single contended field.
const WholeEntityField = "*"

// Conflict is a detected disagreement between a proposed update and the
// current entity state.
type Conflict struct {
	ID             string     `json:"id"`
	EntityID       string     `json:"entityId"`
	Field          string     `json:"field"`
	ProposedValue  any        `json:"proposedValue,omitempty"`
	Status         string     `json:"status"`
	ResolutionNote string     `json:"resolutionNote,omitempty"`
	ResolvedBy     string     `json:"resolvedBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

// Relation is a typed directed edge between two entities. References are
// weak: traversal must tolerate edges whose endpoints are gone or tombstoned.
type Relation struct {
	From         string         `json:"from"`
	To           string         `json:"to"`
	RelationType string         `json:"relationType"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// Subgraph is the result of a bounded traversal.
type Subgraph struct {
	Entities  []KnowledgeEntity `json:"entities"`
	Relations []Relation        `json:"relations"`
}

// UpdateResult is the outcome of a reconciled update. Pending conflicts are a
// partial-success signal, not a failure: Applied lists the fields that landed,
// Conflicts the contended fields awaiting explicit resolution.
type UpdateResult struct {
	Entity    *KnowledgeEntity `json:"entity"`
	Applied   []string         `json:"applied,omitempty"`
	Conflicts []Conflict       `json:"conflicts,omitempty"`
}

// SearchMatch pairs an entity with its similarity score (1 = identical).
type SearchMatch struct {
	Entity KnowledgeEntity `json:"entity"`
	Score  float64         `json:"score"`
}

// Change-event kinds emitted after accepted writes.
const (
	ChangeCreated         = "created"
	ChangeUpdated         = "updated"
	ChangeMerged          = "merged"
	ChangeTombstoned      = "tombstoned"
	ChangeRelationCreated = "relation_created"
	ChangeRelationDeleted = "relation_deleted"
)

// ChangeEvent is emitted after each accepted write for an external
// broadcaster to relay. The core does not manage subscriber delivery.
type ChangeEvent struct {
	Project  string    `json:"project"`
	EntityID string    `json:"entityId"`
	Version  int64     `json:"version"`
	Kind     string    `json:"kind"`
	At       time.Time `json:"at"`
}
