package apptype

// ProjectArgs provides a standard way to pass project context to tools.
type ProjectArgs struct {
	ProjectName string `json:"projectName,omitempty" jsonschema:"The name of the project to operate on. If not provided, the default project is used."`
}

// CreateEntityArgs represents the arguments for the create_entity tool
type CreateEntityArgs struct {
	ProjectArgs ProjectArgs    `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	ID          string         `json:"id,omitempty" jsonschema:"Optional entity id. Assigned by the store when omitted."`
	Content     string         `json:"content" jsonschema:"Text payload of the entity."`
	EntityType  string         `json:"entityType" jsonschema:"Type tag for the entity."`
	CreatedBy   string         `json:"createdBy,omitempty" jsonschema:"Actor creating the entity."`
	Metadata    map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary metadata map."`
	Embedding   []float32      `json:"embedding,omitempty" jsonschema:"Optional fixed-length embedding vector."`
}

// UpdateEntityArgs represents the arguments for the update_entity tool.
// Updates keys are content, entityType, metadata, or metadata.<key>.
type UpdateEntityArgs struct {
	ProjectArgs ProjectArgs    `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	ID          string         `json:"id" jsonschema:"Entity id to update."`
	BaseVersion int64          `json:"baseVersion" jsonschema:"The entity version the caller last observed."`
	Updates     map[string]any `json:"updates" jsonschema:"Field to value map of proposed updates."`
	Strategy    string         `json:"strategy,omitempty" jsonschema:"Conflict-resolution strategy: merge|latest_wins|first_wins|strict (default merge)."`
	ActorID     string         `json:"actorId,omitempty" jsonschema:"Actor submitting the update."`
	Evidence    string         `json:"evidence,omitempty" jsonschema:"Free-form justification recorded in the provenance ledger."`
	Source      string         `json:"source,omitempty" jsonschema:"Origin descriptor recorded in the provenance ledger."`
}

// GetEntityArgs represents the arguments for the get_entity tool
type GetEntityArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	ID          string      `json:"id" jsonschema:"Entity id to fetch."`
}

// TombstoneEntityArgs represents the arguments for the tombstone_entity tool
type TombstoneEntityArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	ID          string      `json:"id" jsonschema:"Entity id to tombstone."`
	ActorID     string      `json:"actorId,omitempty" jsonschema:"Actor performing the logical delete."`
}

// SemanticSearchArgs represents the arguments for the semantic_search tool.
// Either an embedding or query text must be provided; query text requires a
// configured embeddings provider.
type SemanticSearchArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	Embedding   []float32   `json:"embedding,omitempty" jsonschema:"Query embedding vector."`
	Query       string      `json:"query,omitempty" jsonschema:"Query text to embed server-side when no vector is given."`
	Limit       int         `json:"limit,omitempty" jsonschema:"Maximum number of matches (default 5)."`
	Threshold   float64     `json:"threshold,omitempty" jsonschema:"Minimum cosine similarity score; matches below are excluded."`
}

// TextSearchArgs represents the arguments for the text_search tool
type TextSearchArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	Query       string      `json:"query" jsonschema:"Full-text query."`
	Limit       int         `json:"limit,omitempty" jsonschema:"Maximum number of matches (default 10)."`
}

// GetProvenanceArgs represents the arguments for the get_provenance tool
type GetProvenanceArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	EntityID    string      `json:"entityId" jsonschema:"Entity whose ledger to read."`
	Source      string      `json:"source,omitempty" jsonschema:"Optional source/predicate filter."`
	Direction   string      `json:"direction,omitempty" jsonschema:"Relation-direction filter: out|in|both (default both)."`
	Limit       int         `json:"limit,omitempty" jsonschema:"Maximum number of records (default 20)."`
	Offset      int         `json:"offset,omitempty" jsonschema:"Number of records to skip."`
}

// TraverseArgs represents the arguments for the traverse tool
type TraverseArgs struct {
	ProjectArgs    ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	StartID        string      `json:"startId" jsonschema:"Entity id to start from."`
	MaxDepth       int         `json:"maxDepth" jsonschema:"Maximum hop depth; clamped to a hard ceiling."`
	RelationFilter string      `json:"relationFilter,omitempty" jsonschema:"Only follow edges of this relation type."`
	Direction      string      `json:"direction,omitempty" jsonschema:"out|in|both (default both)."`
}

// NeighborsArgs represents the arguments for the neighbors tool
type NeighborsArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	IDs         []string    `json:"ids" jsonschema:"Seed entity ids to expand from."`
	Direction   string      `json:"direction,omitempty" jsonschema:"out|in|both (default both)."`
	Limit       int         `json:"limit,omitempty" jsonschema:"Maximum number of edges returned."`
}

// ReadGraphArgs represents the arguments for the read_graph tool
type ReadGraphArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	Limit       int         `json:"limit,omitempty" jsonschema:"Maximum number of recent entities to return (default 10)."`
}

// CreateRelationsArgs represents the arguments for the create_relations tool
type CreateRelationsArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	Relations   []Relation  `json:"relations" jsonschema:"A list of relations to create between entities."`
	ActorID     string      `json:"actorId,omitempty" jsonschema:"Actor creating the relations."`
}

// DeleteRelationArgs represents the arguments for the delete_relation tool
type DeleteRelationArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	Source      string      `json:"source" jsonschema:"Source entity id."`
	Target      string      `json:"target" jsonschema:"Target entity id."`
	Type        string      `json:"type" jsonschema:"Relation type."`
}

// ListConflictsArgs represents the arguments for the list_conflicts tool
type ListConflictsArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	EntityID    string      `json:"entityId,omitempty" jsonschema:"Restrict to conflicts on this entity."`
	Status      string      `json:"status,omitempty" jsonschema:"pending|resolved|rejected (default all)."`
	Limit       int         `json:"limit,omitempty" jsonschema:"Maximum number of conflicts (default 20)."`
}

// ResolveConflictArgs represents the arguments for the resolve_conflict tool
type ResolveConflictArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	ConflictID  string      `json:"conflictId" jsonschema:"Conflict to close."`
	Accept      bool        `json:"accept" jsonschema:"True applies the proposed value; false rejects it."`
	ResolvedBy  string      `json:"resolvedBy,omitempty" jsonschema:"Actor closing the conflict."`
	Note        string      `json:"note,omitempty" jsonschema:"Resolution note recorded on the conflict."`
}

// AppendProvenanceArgs represents the arguments for the append_provenance
// tool, which attaches a standalone ledger record without mutating the entity.
type AppendProvenanceArgs struct {
	ProjectArgs ProjectArgs    `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
	EntityID    string         `json:"entityId" jsonschema:"Entity the record belongs to."`
	Source      string         `json:"source" jsonschema:"Origin descriptor for the record."`
	Evidence    string         `json:"evidence,omitempty" jsonschema:"Free-form justification."`
	ActorID     string         `json:"actorId,omitempty" jsonschema:"Actor appending the record."`
	Metadata    map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary record metadata."`
}

// RebuildIndexArgs represents the arguments for the rebuild_index tool
type RebuildIndexArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Project context for the operation."`
}

// Health
type HealthArgs struct{}

type HealthResult struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Revision      string `json:"revision"`
	BuildDate     string `json:"buildDate"`
	MultiProject  bool   `json:"multiProject"`
	EmbeddingDims int    `json:"embeddingDims"`
}

// EntityResult wraps a single entity for structured tool output.
type EntityResult struct {
	Entity KnowledgeEntity `json:"entity"`
}

// SearchResult is the structured output of the search tools.
type SearchResult struct {
	Matches []SearchMatch `json:"matches"`
}

// ProvenanceResult is the structured output of get_provenance.
type ProvenanceResult struct {
	Records []ProvenanceRecord `json:"records"`
}

// ConflictListResult is the structured output of list_conflicts.
type ConflictListResult struct {
	Conflicts []Conflict `json:"conflicts"`
}

// ConflictResult wraps a single conflict for structured tool output.
type ConflictResult struct {
	Conflict Conflict `json:"conflict"`
}

// ProvenanceRecordResult wraps a single ledger record.
type ProvenanceRecordResult struct {
	Record ProvenanceRecord `json:"record"`
}
