// Package tools implements the agent's data-source tools: the adverse event
// graph, the openFDA adverse event API and the PDF report archive.
package tools

import (
	"errors"
	"log/slog"

	"github.com/spf13/afero"

	"pharmachat/agent"
	"pharmachat/tokens"
)

// Deps are the collaborators the tools are built from.
type Deps struct {
	// Graph and Generator back the graph tool; the tool is left out when
	// Graph is nil.
	Graph     GraphRunner
	Generator QueryGenerator

	FDA FDAConfig

	ReportsFs  afero.Fs
	ReportsDir string
	Extract    PageExtractor

	Counter *tokens.Counter
	Logger  *slog.Logger
}

// NewRegistry builds the immutable tool registry.
func NewRegistry(d Deps) (*agent.ToolRegistry, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ReportsFs == nil {
		d.ReportsFs = afero.NewOsFs()
	}
	if d.ReportsDir == "" {
		d.ReportsDir = "data"
	}

	var list []agent.Tool
	if d.Graph != nil {
		if d.Generator == nil {
			return nil, errors.New("graph tool requires a query generator")
		}
		list = append(list, NewGraphQueryTool(d.Graph, d.Generator, d.Counter, d.Logger.With("tool", GraphToolName)).Tool())
	} else {
		d.Logger.Warn("graph database not configured, graph tool disabled")
	}

	fda, err := NewAdverseEventsTool(d.FDA, d.Counter, d.Logger.With("tool", AdverseEventsToolName))
	if err != nil {
		return nil, err
	}
	list = append(list, fda.Tool())

	list = append(list, NewDocumentSearchTool(d.ReportsFs, d.ReportsDir, d.Extract, d.Counter, d.Logger.With("tool", ReportToolName)).Tool())

	return agent.NewToolRegistry(list...)
}
