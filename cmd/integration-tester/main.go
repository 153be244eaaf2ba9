// Command integration-tester exercises a running MCP knowledge server over
// SSE and prints a JSON report. Intended for smoke-testing deployments; it
// mutates the target project.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
)

type StepResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type Report struct {
	SSEURL     string       `json:"sse_url"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
	Passed     bool         `json:"passed"`
}

func main() {
	sseURL := flag.String("sse-url", "http://localhost:8080/sse", "SSE endpoint URL")
	project := flag.String("project", "default", "Project name to use")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "integration-tester", Version: "dev"}, nil)
	transport := mcp.NewSSEClientTransport(*sseURL, nil)

	start := time.Now()
	report := Report{SSEURL: *sseURL, StartedAt: start}
	steps := make([]StepResult, 0, 16)

	// Connect
	tConn := time.Now()
	connRes := StepResult{Name: "connect"}
	session, err := client.Connect(ctx, transport)
	if err != nil {
		connRes.Error = err.Error()
		connRes.ElapsedMs = elapsedMsSince(tConn)
		report.Steps = append(steps, connRes)
		report.DurationMs = elapsedMsSince(start)
		emit(report)
		os.Exit(1)
	}
	defer session.Close()
	connRes.Success = true
	connRes.ElapsedMs = elapsedMsSince(tConn)
	steps = append(steps, connRes)

	proj := apptype.ProjectArgs{ProjectName: *project}

	steps = append(steps, runListTools(ctx, session))
	steps = append(steps, runTool(ctx, session, "create_entity_a", "create_entity", apptype.CreateEntityArgs{
		ProjectArgs: proj, ID: "it-a", Content: "alpha fact about graphs", EntityType: "fact", CreatedBy: "tester",
	}))
	steps = append(steps, runTool(ctx, session, "create_entity_b", "create_entity", apptype.CreateEntityArgs{
		ProjectArgs: proj, ID: "it-b", Content: "beta fact about vectors", EntityType: "fact", CreatedBy: "tester",
	}))
	steps = append(steps, runTool(ctx, session, "get_entity", "get_entity", apptype.GetEntityArgs{
		ProjectArgs: proj, ID: "it-a",
	}))
	// Advance it-a to version 2, then replay a stale base to force a conflict.
	steps = append(steps, runTool(ctx, session, "update_fresh", "update_entity", apptype.UpdateEntityArgs{
		ProjectArgs: proj, ID: "it-a", BaseVersion: 1,
		Updates: map[string]any{"content": "alpha fact, revised"}, ActorID: "tester",
	}))
	steps = append(steps, runTool(ctx, session, "update_stale_merge", "update_entity", apptype.UpdateEntityArgs{
		ProjectArgs: proj, ID: "it-a", BaseVersion: 1,
		Updates: map[string]any{"content": "competing revision"}, Strategy: "merge", ActorID: "tester2",
	}))
	steps = append(steps, runTool(ctx, session, "list_conflicts", "list_conflicts", apptype.ListConflictsArgs{
		ProjectArgs: proj, EntityID: "it-a", Status: "pending",
	}))
	steps = append(steps, runTool(ctx, session, "get_provenance", "get_provenance", apptype.GetProvenanceArgs{
		ProjectArgs: proj, EntityID: "it-a",
	}))
	steps = append(steps, runTool(ctx, session, "create_relations", "create_relations", apptype.CreateRelationsArgs{
		ProjectArgs: proj, ActorID: "tester",
		Relations: []apptype.Relation{{From: "it-a", To: "it-b", RelationType: "references"}},
	}))
	steps = append(steps, runTool(ctx, session, "neighbors", "neighbors", apptype.NeighborsArgs{
		ProjectArgs: proj, IDs: []string{"it-a"}, Direction: "out",
	}))
	steps = append(steps, runTool(ctx, session, "traverse", "traverse", apptype.TraverseArgs{
		ProjectArgs: proj, StartID: "it-a", MaxDepth: 2, Direction: "both",
	}))
	steps = append(steps, runTool(ctx, session, "read_graph", "read_graph", apptype.ReadGraphArgs{
		ProjectArgs: proj, Limit: 10,
	}))
	steps = append(steps, runTool(ctx, session, "text_search", "text_search", apptype.TextSearchArgs{
		ProjectArgs: proj, Query: "fact", Limit: 10,
	}))
	steps = append(steps, runTool(ctx, session, "delete_relation", "delete_relation", apptype.DeleteRelationArgs{
		ProjectArgs: proj, Source: "it-a", Target: "it-b", Type: "references",
	}))
	steps = append(steps, runTool(ctx, session, "tombstone_entity", "tombstone_entity", apptype.TombstoneEntityArgs{
		ProjectArgs: proj, ID: "it-b", ActorID: "tester",
	}))
	steps = append(steps, runTool(ctx, session, "health_check", "health_check", apptype.HealthArgs{}))

	report.Steps = steps
	report.DurationMs = elapsedMsSince(start)
	report.Passed = true
	for _, s := range steps {
		if !s.Success {
			report.Passed = false
			break
		}
	}

	emit(report)
	if !report.Passed {
		os.Exit(1)
	}
}

func runListTools(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "list_tools"}
	if _, err := session.ListTools(ctx, &mcp.ListToolsParams{}); err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

func runTool(ctx context.Context, session *mcp.ClientSession, step, tool string, args any) StepResult {
	t0 := time.Now()
	res := StepResult{Name: step}
	raw, err := json.Marshal(args)
	if err != nil {
		res.Error = fmt.Sprintf("marshal args: %v", err)
		res.ElapsedMs = elapsedMsSince(t0)
		return res
	}
	out, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: json.RawMessage(raw)})
	if err != nil {
		res.Error = err.Error()
	} else if out != nil && out.IsError {
		res.Error = fmt.Sprintf("tool %s reported error", tool)
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

func emit(report Report) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}

func elapsedMsSince(t time.Time) int64 {
	return time.Since(t).Milliseconds()
}
