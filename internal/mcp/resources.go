package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// reportflow://report/active — staging row of the configured active report.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"reportflow://report/active",
			"Active Report",
			mcplib.WithResourceDescription("Staging row of the configured active report"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActiveReport,
	)

	// reportflow://report/{id} — staging row for a specific report.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"reportflow://report/{id}",
			"Report Staging Row",
			mcplib.WithTemplateDescription("Staging row metadata for a specific report"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleReportByID,
	)
}

func (s *Server) handleActiveReport(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.activeReportID == "" {
		return nil, fmt.Errorf("mcp: no active report configured")
	}
	return s.readReportResource(ctx, "reportflow://report/active", s.activeReportID)
}

func (s *Server) handleReportByID(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	reportID := strings.TrimPrefix(uri, "reportflow://report/")
	if reportID == "" || reportID == uri {
		return nil, fmt.Errorf("mcp: invalid report URI: %s", uri)
	}
	return s.readReportResource(ctx, uri, reportID)
}

func (s *Server) readReportResource(ctx context.Context, uri, reportID string) ([]mcplib.ResourceContents, error) {
	rc, err := s.db.GetReportContext(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("mcp: report resource: %w", err)
	}

	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal report: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
