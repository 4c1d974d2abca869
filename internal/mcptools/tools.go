// Package mcptools exposes the CRM services as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/analyzer"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/reindex"
	"github.com/moctezuma-dev/zappy-back/internal/retrieval"
)

type Searcher interface {
	Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.Result, error)
}

type ManualAnalyzer interface {
	TriggerManual(ctx context.Context, req analyzer.ManualRequest) (int, error)
}

type Reindexer interface {
	Run(ctx context.Context, target reindex.Target, opts reindex.Options) (reindex.Result, error)
}

// Tools registers search_crm, list_alerts, resolve_alert, analyze_record and
// reindex_contexts. Nil services leave their tools unregistered.
type Tools struct {
	search   Searcher
	alerts   retrieval.AlertService
	analyzer ManualAnalyzer
	reindex  Reindexer
	log      zerolog.Logger
}

func New(search Searcher, alerts retrieval.AlertService, an ManualAnalyzer, rx Reindexer, log zerolog.Logger) *Tools {
	return &Tools{
		search:   search,
		alerts:   alerts,
		analyzer: an,
		reindex:  rx,
		log:      log.With().Str("component", "mcp").Logger(),
	}
}

// NewServer builds an MCP server with every available tool registered.
func NewServer(version string, t *Tools) *server.MCPServer {
	s := server.NewMCPServer("zappy-crm", version, server.WithToolCapabilities(true))
	t.RegisterTools(s)
	return s
}

// Handler serves s over Streamable HTTP at /mcp.
func Handler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s,
		server.WithEndpointPath("/mcp"),
		server.WithHeartbeatInterval(30*time.Second),
	)
}

func (t *Tools) RegisterTools(s *server.MCPServer) {
	if t.search != nil {
		s.AddTool(mcp.NewTool("search_crm",
			mcp.WithDescription("Semantic search over indexed CRM contexts (interactions, work items, fresh data, knowledge, notes)."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search query text")),
			mcp.WithString("type", mcp.Description("Restrict to one context type")),
			mcp.WithString("company_id", mcp.Description("Restrict to a company")),
			mcp.WithString("contact_id", mcp.Description("Restrict to a contact")),
			mcp.WithNumber("limit", mcp.Description("Number of results (1-20, default 8)")),
		), t.handleSearch)
	}
	if t.alerts != nil {
		s.AddTool(mcp.NewTool("list_alerts",
			mcp.WithDescription("List alerts, newest first. Defaults to open alerts."),
			mcp.WithString("status", mcp.Description("open or resolved")),
			mcp.WithString("severity", mcp.Description("low, medium, high or critical")),
			mcp.WithString("company_id", mcp.Description("Restrict to a company")),
			mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		), t.handleListAlerts)
		s.AddTool(mcp.NewTool("resolve_alert",
			mcp.WithDescription("Resolve an alert by id."),
			mcp.WithString("alert_id", mcp.Required(), mcp.Description("Alert id")),
		), t.handleResolveAlert)
	}
	if t.analyzer != nil {
		s.AddTool(mcp.NewTool("analyze_record",
			mcp.WithDescription("Re-run the analysis pipeline for one record, or the newest records of a type."),
			mcp.WithString("type", mcp.Required(), mcp.Description("interactions, work_items, contacts or fresh_data")),
			mcp.WithString("id", mcp.Description("Record id; omit to analyse the newest records")),
			mcp.WithNumber("limit", mcp.Description("How many records when id is omitted (default 10)")),
		), t.handleAnalyze)
	}
	if t.reindex != nil {
		s.AddTool(mcp.NewTool("reindex_contexts",
			mcp.WithDescription("Rebuild search contexts by re-analysing records."),
			mcp.WithString("target", mcp.Description("interactions, work_items, fresh_data or all (default)")),
			mcp.WithString("company_id", mcp.Description("Restrict to a company")),
			mcp.WithNumber("limit", mcp.Description("Records per type (default 100, max 500)")),
		), t.handleReindex)
	}
}

func (t *Tools) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	hits, err := t.search.Search(ctx, retrieval.SearchRequest{
		Query:     query,
		Type:      req.GetString("type", ""),
		CompanyID: req.GetString("company_id", ""),
		ContactID: req.GetString("contact_id", ""),
		Limit:     req.GetInt("limit", 0),
	})
	if err != nil {
		return t.failed("search_crm", err), nil
	}
	return jsonResult(map[string]any{"results": hits, "count": len(hits)})
}

func (t *Tools) handleListAlerts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := t.alerts.List(ctx, model.AlertFilter{
		Status:    model.AlertStatus(req.GetString("status", string(model.AlertOpen))),
		Severity:  model.Severity(req.GetString("severity", "")),
		CompanyID: req.GetString("company_id", ""),
		Limit:     req.GetInt("limit", 0),
	})
	if err != nil {
		return t.failed("list_alerts", err), nil
	}
	return jsonResult(page)
}

func (t *Tools) handleResolveAlert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("alert_id")
	if err != nil {
		return mcp.NewToolResultError("alert_id parameter is required"), nil
	}
	if err := t.alerts.ResolveByID(ctx, id); err != nil {
		return t.failed("resolve_alert", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("alert %s resolved", id)), nil
}

func (t *Tools) handleAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type parameter is required"), nil
	}
	n, err := t.analyzer.TriggerManual(ctx, analyzer.ManualRequest{
		Type:  typ,
		ID:    req.GetString("id", ""),
		Limit: req.GetInt("limit", 0),
	})
	if err != nil {
		return t.failed("analyze_record", err), nil
	}
	return jsonResult(map[string]any{"processed": n})
}

func (t *Tools) handleReindex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target := reindex.Target(req.GetString("target", string(reindex.TargetAll)))
	res, err := t.reindex.Run(ctx, target, reindex.Options{
		Limit:     req.GetInt("limit", 0),
		CompanyID: req.GetString("company_id", ""),
	})
	if err != nil {
		return t.failed("reindex_contexts", err), nil
	}
	return jsonResult(map[string]any{"target": target, "processed": res.Processed(), "result": res})
}

func (t *Tools) failed(tool string, err error) *mcp.CallToolResult {
	t.log.Warn().Err(err).Str("tool", tool).Msg("tool call failed")
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", tool, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
