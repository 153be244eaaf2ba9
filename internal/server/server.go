package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/resolver"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/pkg/knowledge"
)

const defaultProject = "default"

// MCPServer exposes the knowledge substrate over the MCP protocol.
type MCPServer struct {
	server  *mcp.Server
	service *knowledge.Service
}

// NewMCPServer creates a new MCP server on top of a knowledge service.
func NewMCPServer(service *knowledge.Service) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mcp-knowledge-libsql-go",
		Version: buildinfo.Version,
	}, nil)

	mcpServer := &MCPServer{
		server:  server,
		service: service,
	}

	// initialize metrics from env (no-op if disabled)
	metrics.InitFromEnv()
	mcpServer.setupToolHandlers()
	return mcpServer
}

func mustSchema[T any](name string) *jsonschema.Schema {
	s, err := jsonschema.For[T]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for %s: %v", name, err))
	}
	return s
}

// setupToolHandlers registers all MCP tools. Tools that return plain text do
// not need an output schema; only tools returning structured content declare
// OutputSchema.
func (s *MCPServer) setupToolHandlers() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "create_entity",
		Title:        "Create Entity",
		Description:  "Create a versioned knowledge entity with its creation provenance record.",
		InputSchema:  mustSchema[apptype.CreateEntityArgs]("CreateEntityArgs"),
		OutputSchema: mustSchema[apptype.EntityResult]("EntityResult (create)"),
	}, s.handleCreateEntity)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "get_entity",
		Title:        "Get Entity",
		Description:  "Fetch a knowledge entity by id. Tombstoned entities read as not found.",
		InputSchema:  mustSchema[apptype.GetEntityArgs]("GetEntityArgs"),
		OutputSchema: mustSchema[apptype.EntityResult]("EntityResult (get)"),
	}, s.handleGetEntity)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "update_entity",
		Title:        "Update Entity",
		Description:  "Apply a versioned update under a conflict strategy (merge, latest_wins, first_wins, strict). Pending conflicts in the result are partial success, not failure.",
		InputSchema:  mustSchema[apptype.UpdateEntityArgs]("UpdateEntityArgs"),
		OutputSchema: mustSchema[apptype.UpdateResult]("UpdateResult"),
	}, s.handleUpdateEntity)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "tombstone_entity",
		Title:       "Tombstone Entity",
		Description: "Logically delete an entity. The row and its provenance ledger survive.",
		InputSchema: mustSchema[apptype.TombstoneEntityArgs]("TombstoneEntityArgs"),
	}, s.handleTombstoneEntity)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "semantic_search",
		Title:        "Semantic Search",
		Description:  "Find entities by vector similarity. Supply an embedding, or query text when an embeddings provider is configured.",
		InputSchema:  mustSchema[apptype.SemanticSearchArgs]("SemanticSearchArgs"),
		OutputSchema: mustSchema[apptype.SearchResult]("SearchResult (semantic)"),
	}, s.handleSemanticSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "text_search",
		Title:        "Text Search",
		Description:  "Find entities by full-text match on content and type.",
		InputSchema:  mustSchema[apptype.TextSearchArgs]("TextSearchArgs"),
		OutputSchema: mustSchema[apptype.SearchResult]("SearchResult (text)"),
	}, s.handleTextSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "get_provenance",
		Title:        "Get Provenance",
		Description:  "Read an entity's append-only provenance ledger, most recent first.",
		InputSchema:  mustSchema[apptype.GetProvenanceArgs]("GetProvenanceArgs"),
		OutputSchema: mustSchema[apptype.ProvenanceResult]("ProvenanceResult"),
	}, s.handleGetProvenance)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "append_provenance",
		Title:        "Append Provenance",
		Description:  "Attach a standalone ledger record to an entity without mutating it.",
		InputSchema:  mustSchema[apptype.AppendProvenanceArgs]("AppendProvenanceArgs"),
		OutputSchema: mustSchema[apptype.ProvenanceRecordResult]("ProvenanceRecordResult"),
	}, s.handleAppendProvenance)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "traverse",
		Title:        "Traverse Graph",
		Description:  "Bounded breadth-first traversal from a start entity.",
		InputSchema:  mustSchema[apptype.TraverseArgs]("TraverseArgs"),
		OutputSchema: mustSchema[apptype.Subgraph]("Subgraph (traverse)"),
	}, s.handleTraverse)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "neighbors",
		Title:        "Neighbors",
		Description:  "Fetch 1-hop neighbors for given entities.",
		InputSchema:  mustSchema[apptype.NeighborsArgs]("NeighborsArgs"),
		OutputSchema: mustSchema[apptype.Subgraph]("Subgraph (neighbors)"),
	}, s.handleNeighbors)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "read_graph",
		Title:        "Read Graph",
		Description:  "Get recent entities and the relations among them.",
		InputSchema:  mustSchema[apptype.ReadGraphArgs]("ReadGraphArgs"),
		OutputSchema: mustSchema[apptype.Subgraph]("Subgraph (read)"),
	}, s.handleReadGraph)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "create_relations",
		Title:       "Create Relations",
		Description: "Create typed directed relations between existing entities.",
		InputSchema: mustSchema[apptype.CreateRelationsArgs]("CreateRelationsArgs"),
	}, s.handleCreateRelations)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_relation",
		Title:       "Delete Relation",
		Description: "Delete a specific relation between entities.",
		InputSchema: mustSchema[apptype.DeleteRelationArgs]("DeleteRelationArgs"),
	}, s.handleDeleteRelation)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "list_conflicts",
		Title:        "List Conflicts",
		Description:  "List recorded update conflicts, optionally filtered by entity and status.",
		InputSchema:  mustSchema[apptype.ListConflictsArgs]("ListConflictsArgs"),
		OutputSchema: mustSchema[apptype.ConflictListResult]("ConflictListResult"),
	}, s.handleListConflicts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "resolve_conflict",
		Title:        "Resolve Conflict",
		Description:  "Close a pending conflict: accept applies the proposed value, reject keeps current state.",
		InputSchema:  mustSchema[apptype.ResolveConflictArgs]("ResolveConflictArgs"),
		OutputSchema: mustSchema[apptype.ConflictResult]("ConflictResult"),
	}, s.handleResolveConflict)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "rebuild_index",
		Title:       "Rebuild Search Index",
		Description: "Re-derive the search index from the entity store.",
		InputSchema: mustSchema[apptype.RebuildIndexArgs]("RebuildIndexArgs"),
	}, s.handleRebuildIndex)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "health_check",
		Title:        "Health Check",
		Description:  "Returns server and configuration information.",
		InputSchema:  mustSchema[apptype.HealthArgs]("HealthArgs"),
		OutputSchema: mustSchema[apptype.HealthResult]("HealthResult"),
	}, s.handleHealth)
}

func (s *MCPServer) getProjectName(providedName string) string {
	if providedName != "" {
		return providedName
	}
	return defaultProject
}

// handleCreateEntity handles the create_entity tool call
func (s *MCPServer) handleCreateEntity(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.CreateEntityArgs],
) (*mcp.CallToolResultFor[apptype.EntityResult], error) {
	done := metrics.TimeTool("create_entity")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	args := params.Arguments

	draft := apptype.EntityDraft{
		ID:         args.ID,
		Content:    args.Content,
		EntityType: args.EntityType,
		CreatedBy:  args.CreatedBy,
		Metadata:   args.Metadata,
		Embedding:  args.Embedding,
	}
	prov := apptype.ProvenanceDraft{Source: "create", ActorID: args.CreatedBy}
	entity, err := s.service.CreateEntity(ctx, projectName, draft, prov)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.EntityResult]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Created entity %s (version %d) in project %s", entity.ID, entity.Version, projectName),
			},
		},
		StructuredContent: apptype.EntityResult{Entity: *entity},
	}, nil
}

// handleGetEntity handles the get_entity tool call
func (s *MCPServer) handleGetEntity(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetEntityArgs],
) (*mcp.CallToolResultFor[apptype.EntityResult], error) {
	done := metrics.TimeTool("get_entity")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)

	entity, err := s.service.GetEntity(ctx, projectName, params.Arguments.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.EntityResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "Entity fetched"}},
		StructuredContent: apptype.EntityResult{Entity: *entity},
	}, nil
}

// handleUpdateEntity handles the update_entity tool call. A version conflict
// under the strict strategy is reported as a tool error carrying the current
// version so the caller can re-base.
func (s *MCPServer) handleUpdateEntity(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.UpdateEntityArgs],
) (*mcp.CallToolResultFor[apptype.UpdateResult], error) {
	done := metrics.TimeTool("update_entity")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	args := params.Arguments

	strategy, err := resolver.ParseStrategy(args.Strategy)
	if err != nil {
		return nil, err
	}
	result, err := s.service.Update(ctx, projectName, resolver.UpdateRequest{
		EntityID:    args.ID,
		BaseVersion: args.BaseVersion,
		Updates:     args.Updates,
		Strategy:    strategy,
		ActorID:     args.ActorID,
		Evidence:    args.Evidence,
		Source:      args.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}
	success = true

	text := fmt.Sprintf("Applied %d field(s) to entity %s", len(result.Applied), args.ID)
	if len(result.Conflicts) > 0 {
		text += fmt.Sprintf(", %d conflict(s) recorded", len(result.Conflicts))
	}
	return &mcp.CallToolResultFor[apptype.UpdateResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: *result,
	}, nil
}

// handleTombstoneEntity handles the tombstone_entity tool call
func (s *MCPServer) handleTombstoneEntity(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.TombstoneEntityArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("tombstone_entity")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	id := params.Arguments.ID

	if err := s.service.Tombstone(ctx, projectName, id, params.Arguments.ActorID); err != nil {
		return nil, fmt.Errorf("failed to tombstone entity: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Tombstoned entity %s in project %s", id, projectName)},
		},
	}, nil
}

// handleSemanticSearch handles the semantic_search tool call
func (s *MCPServer) handleSemanticSearch(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SemanticSearchArgs],
) (*mcp.CallToolResultFor[apptype.SearchResult], error) {
	done := metrics.TimeTool("semantic_search")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	limit := params.Arguments.Limit
	if limit <= 0 {
		limit = 5
	}

	matches, err := s.service.SemanticSearch(ctx, projectName,
		params.Arguments.Query, params.Arguments.Embedding, limit, params.Arguments.Threshold)
	if err != nil {
		if kgerr.IsIndexUnavailable(err) {
			return nil, fmt.Errorf("semantic search unavailable: %w", err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.SearchResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d match(es)", len(matches))}},
		StructuredContent: apptype.SearchResult{Matches: matches},
	}, nil
}

// handleTextSearch handles the text_search tool call
func (s *MCPServer) handleTextSearch(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.TextSearchArgs],
) (*mcp.CallToolResultFor[apptype.SearchResult], error) {
	done := metrics.TimeTool("text_search")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	limit := params.Arguments.Limit
	if limit <= 0 {
		limit = 10
	}

	matches, err := s.service.TextSearch(ctx, projectName, params.Arguments.Query, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.SearchResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d match(es)", len(matches))}},
		StructuredContent: apptype.SearchResult{Matches: matches},
	}, nil
}

// handleGetProvenance handles the get_provenance tool call
func (s *MCPServer) handleGetProvenance(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetProvenanceArgs],
) (*mcp.CallToolResultFor[apptype.ProvenanceResult], error) {
	done := metrics.TimeTool("get_provenance")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	args := params.Arguments

	records, err := s.service.ListProvenance(ctx, projectName, args.EntityID, database.ProvenanceQuery{
		Source:    args.Source,
		Direction: args.Direction,
		Limit:     args.Limit,
		Offset:    args.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read provenance: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.ProvenanceResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Fetched %d record(s)", len(records))}},
		StructuredContent: apptype.ProvenanceResult{Records: records},
	}, nil
}

// handleAppendProvenance handles the append_provenance tool call
func (s *MCPServer) handleAppendProvenance(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.AppendProvenanceArgs],
) (*mcp.CallToolResultFor[apptype.ProvenanceRecordResult], error) {
	done := metrics.TimeTool("append_provenance")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	args := params.Arguments

	record, err := s.service.AppendProvenance(ctx, projectName, args.EntityID, apptype.ProvenanceDraft{
		Source:   args.Source,
		Evidence: args.Evidence,
		ActorID:  args.ActorID,
		Metadata: args.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append provenance: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.ProvenanceRecordResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "Provenance record appended"}},
		StructuredContent: apptype.ProvenanceRecordResult{Record: *record},
	}, nil
}

// handleTraverse handles the traverse tool call
func (s *MCPServer) handleTraverse(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.TraverseArgs],
) (*mcp.CallToolResultFor[apptype.Subgraph], error) {
	done := metrics.TimeTool("traverse")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	args := params.Arguments

	var filter []string
	if strings.TrimSpace(args.RelationFilter) != "" {
		filter = []string{args.RelationFilter}
	}
	sub, err := s.service.Traverse(ctx, projectName, args.StartID, args.MaxDepth, filter, args.Direction)
	if err != nil {
		return nil, fmt.Errorf("traverse failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.Subgraph]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Visited %d entities over %d relations", len(sub.Entities), len(sub.Relations))},
		},
		StructuredContent: *sub,
	}, nil
}

// handleNeighbors handles the neighbors tool call
func (s *MCPServer) handleNeighbors(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.NeighborsArgs],
) (*mcp.CallToolResultFor[apptype.Subgraph], error) {
	done := metrics.TimeTool("neighbors")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	args := params.Arguments

	sub, err := s.service.Neighbors(ctx, projectName, args.IDs, args.Direction, nil, args.Limit)
	if err != nil {
		return nil, fmt.Errorf("neighbors failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.Subgraph]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "Neighbors fetched"}},
		StructuredContent: *sub,
	}, nil
}

// handleReadGraph handles the read_graph tool call
func (s *MCPServer) handleReadGraph(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ReadGraphArgs],
) (*mcp.CallToolResultFor[apptype.Subgraph], error) {
	done := metrics.TimeTool("read_graph")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	limit := params.Arguments.Limit
	if limit <= 0 {
		limit = 10
	}

	sub, err := s.service.ReadGraph(ctx, projectName, limit)
	if err != nil {
		return nil, fmt.Errorf("read graph failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.Subgraph]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "Graph read successfully"}},
		StructuredContent: *sub,
	}, nil
}

// handleCreateRelations handles the create_relations tool call
func (s *MCPServer) handleCreateRelations(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.CreateRelationsArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("create_relations")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	relations := params.Arguments.Relations

	if err := s.service.CreateRelations(ctx, projectName, relations, params.Arguments.ActorID); err != nil {
		return nil, fmt.Errorf("failed to create relations: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Created %d relations in project %s", len(relations), projectName)},
		},
	}, nil
}

// handleDeleteRelation handles the delete_relation tool call
func (s *MCPServer) handleDeleteRelation(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.DeleteRelationArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("delete_relation")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	args := params.Arguments

	if err := s.service.DeleteRelation(ctx, projectName, args.Source, args.Target, args.Type); err != nil {
		return nil, fmt.Errorf("failed to delete relation: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Deleted relation %s -> %s (%s)", args.Source, args.Target, args.Type)},
		},
	}, nil
}

// handleListConflicts handles the list_conflicts tool call
func (s *MCPServer) handleListConflicts(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ListConflictsArgs],
) (*mcp.CallToolResultFor[apptype.ConflictListResult], error) {
	done := metrics.TimeTool("list_conflicts")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	args := params.Arguments

	conflicts, err := s.service.ListConflicts(ctx, projectName, args.EntityID, args.Status, args.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.ConflictListResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d conflict(s)", len(conflicts))}},
		StructuredContent: apptype.ConflictListResult{Conflicts: conflicts},
	}, nil
}

// handleResolveConflict handles the resolve_conflict tool call
func (s *MCPServer) handleResolveConflict(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ResolveConflictArgs],
) (*mcp.CallToolResultFor[apptype.ConflictResult], error) {
	done := metrics.TimeTool("resolve_conflict")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)
	args := params.Arguments

	conflict, err := s.service.ResolveConflict(ctx, projectName, args.ConflictID, args.Accept, args.ResolvedBy, args.Note)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conflict: %w", err)
	}
	success = true

	verb := "rejected"
	if args.Accept {
		verb = "accepted"
	}
	return &mcp.CallToolResultFor[apptype.ConflictResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Conflict %s %s", args.ConflictID, verb)}},
		StructuredContent: apptype.ConflictResult{Conflict: *conflict},
	}, nil
}

// handleRebuildIndex handles the rebuild_index tool call
func (s *MCPServer) handleRebuildIndex(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.RebuildIndexArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("rebuild_index")
	var success bool
	defer func() { done(success) }()
	projectName := s.getProjectName(params.Arguments.ProjectArgs.ProjectName)

	if err := s.service.RebuildIndex(ctx, projectName); err != nil {
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Search index rebuilt for project %s", projectName)}},
	}, nil
}

// handleHealth returns basic server health information
func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health_check")
	defer func() { done(true) }()
	cfg := s.service.Config()
	// observe current pool gauges
	inUse, idle := s.service.PoolStats()
	metrics.Default().ObservePoolStats(inUse, idle)
	res := &apptype.HealthResult{
		Name:          "mcp-knowledge-libsql-go",
		Version:       buildinfo.Version,
		Revision:      buildinfo.Revision,
		BuildDate:     buildinfo.BuildDate,
		MultiProject:  cfg.MultiProjectMode,
		EmbeddingDims: cfg.EmbeddingDims,
	}
	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: *res,
	}, nil
}

func (s *MCPServer) startPoolStatsTicker(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inUse, idle := s.service.PoolStats()
				metrics.Default().ObservePoolStats(inUse, idle)
			}
		}
	}()
}

// Run starts the MCP server with stdio transport
func (s *MCPServer) Run(ctx context.Context) error {
	s.startPoolStatsTicker(ctx)
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	s.startPoolStatsTicker(ctx)
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("SSE MCP server listening on %s%s", addr, endpoint)
	return srv.ListenAndServe()
}
