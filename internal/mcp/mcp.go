// Package mcp implements the Model Context Protocol server exposing the
// reporting tools.
//
// Every tool reply is a TextContent JSON envelope of the form
// {ok, data, error} so callers can branch on ok without inspecting
// transport-level errors. Handlers never return a Go error for domain
// failures; those are carried inside the envelope.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/paylabs/reportflow/internal/storage"
)

// Server wraps the MCP server with the reporting storage layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB

	// activeReportID backs is_report_finished, which takes no arguments
	// and reports on the run configured at deploy time.
	activeReportID string

	logger *slog.Logger
}

// New creates and configures a new MCP server with all reporting tools.
func New(db *storage.DB, activeReportID string, logger *slog.Logger) *Server {
	s := &Server{
		db:             db,
		activeReportID: activeReportID,
		logger:         logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"reportflow-mcp",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(true, true),
	)

	s.registerTools()
	s.registerResources()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// run_read_query — guarded read-only SQL for evidence gathering.
	s.mcpServer.AddTool(
		mcplib.NewTool("run_read_query",
			mcplib.WithDescription("Execute a single read-only SELECT statement with a server-enforced row limit"),
			mcplib.WithString("sql", mcplib.Description("SELECT statement to execute"), mcplib.Required()),
			mcplib.WithNumber("limit", mcplib.Description("Maximum rows to return (1-1000, default 200)")),
		),
		s.handleRunReadQuery,
	)

	// get_report_context — resolve a staging row by report_id.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_report_context",
			mcplib.WithDescription("Resolve the staging row metadata for a report_id"),
			mcplib.WithString("report_id", mcplib.Description("Report identifier"), mcplib.Required()),
		),
		s.handleGetReportContext,
	)

	// get_report_metrics — aggregated figures for a merchant and period.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_report_metrics",
			mcplib.WithDescription("Aggregate revenue, volume, top item, peak hour and payment breakdown for a merchant and period"),
			mcplib.WithString("merchant_id", mcplib.Description("Merchant identifier"), mcplib.Required()),
			mcplib.WithString("start_date", mcplib.Description("Period start (YYYY-MM-DD)"), mcplib.Required()),
			mcplib.WithString("end_date", mcplib.Description("Period end (YYYY-MM-DD)"), mcplib.Required()),
		),
		s.handleGetReportMetrics,
	)

	// update_report_staging — persist status, metrics and narratives.
	s.mcpServer.AddTool(
		mcplib.NewTool("update_report_staging",
			mcplib.WithDescription("Update a staging row's status and merge any provided metric or narrative fields"),
			mcplib.WithString("report_id", mcplib.Description("Report identifier"), mcplib.Required()),
			mcplib.WithString("status", mcplib.Description("One of PROCESSING, READY, FAILED"), mcplib.Required()),
			mcplib.WithNumber("total_revenue", mcplib.Description("Total net revenue for the period")),
			mcplib.WithNumber("transaction_count", mcplib.Description("Number of successful transactions")),
			mcplib.WithString("top_selling_item_name", mcplib.Description("Best-selling item name")),
			mcplib.WithNumber("top_selling_item_qty", mcplib.Description("Best-selling item quantity")),
			mcplib.WithString("financial_summary", mcplib.Description("Financial summary narrative")),
			mcplib.WithString("pattern_analysis", mcplib.Description("Pattern analysis narrative")),
			mcplib.WithString("strategic_advice", mcplib.Description("Strategic advice narrative")),
		),
		s.handleUpdateReportStaging,
	)

	// mark_report_failed — terminal recovery path.
	s.mcpServer.AddTool(
		mcplib.NewTool("mark_report_failed",
			mcplib.WithDescription("Mark a staging row FAILED and record the failure reason"),
			mcplib.WithString("report_id", mcplib.Description("Report identifier"), mcplib.Required()),
			mcplib.WithString("reason", mcplib.Description("Failure reason"), mcplib.Required()),
		),
		s.handleMarkReportFailed,
	)

	// is_report_finished — poll the configured report's terminal state.
	s.mcpServer.AddTool(
		mcplib.NewTool("is_report_finished",
			mcplib.WithDescription("Check whether the configured active report has reached a terminal status"),
		),
		s.handleIsReportFinished,
	)
}
