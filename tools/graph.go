package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pharmachat/agent"
	"pharmachat/tokens"
)

// GraphToolName is the registered name of the graph query tool.
const GraphToolName = "query_graph_database"

const graphToolDescription = `Query the pharmaceutical adverse event graph in natural language. ` +
	`A Cypher query is generated from the question and run against the graph. ` +
	`Answers questions about drugs, manufacturers, adverse reactions, patient demographics, outcomes and case counts. ` +
	`Examples: "Which manufacturers make drugs containing aspirin?", "What adverse reactions are reported for Kisqali?", ` +
	`"How many cases involve elderly patients?", "Which drugs are most commonly primary suspects?"`

// GraphOutputTokens is the output budget of the graph query tool.
const GraphOutputTokens = 2000

type graphInput struct {
	QueryDescription string `json:"query_description" jsonschema:"description=The question to answer from the graph in plain language"`
}

// GraphQueryTool answers questions from the adverse event graph.
type GraphQueryTool struct {
	runner    GraphRunner
	generator QueryGenerator
	counter   *tokens.Counter
	logger    *slog.Logger
}

// NewGraphQueryTool creates the tool. counter may be nil to use the shared
// token counter.
func NewGraphQueryTool(runner GraphRunner, generator QueryGenerator, counter *tokens.Counter, logger *slog.Logger) *GraphQueryTool {
	if counter == nil {
		counter = tokens.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphQueryTool{runner: runner, generator: generator, counter: counter, logger: logger}
}

// Tool exposes the graph query as an agent tool.
func (g *GraphQueryTool) Tool() agent.Tool {
	return agent.NewTool(GraphToolName, graphToolDescription, func(ctx context.Context, in graphInput) (string, error) {
		return g.Query(ctx, in.QueryDescription)
	})
}

// Query generates, sanitizes and runs a query for question. A query the
// database rejects is reported as text so the model can rephrase; failing to
// reach the database is an error.
func (g *GraphQueryTool) Query(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", errors.New("query_description must not be empty")
	}

	query, err := g.generator.Generate(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		query = FallbackQuery(question)
		g.logger.Warn("cypher generation failed, using fallback query", "error", err, "query", query)
	}
	query = SanitizeQuery(query, question)

	rows, err := g.runner.Run(ctx, query, nil)
	if err != nil {
		var qe *QueryError
		if errors.As(err, &qe) {
			return fmt.Sprintf("Generated query failed: %v\n\nGenerated Query: %s\n\nOriginal Question: %s\n\n"+
				"The generated query was invalid. Please try rephrasing your question.", qe, query, question), nil
		}
		return "", fmt.Errorf("querying graph database: %w", err)
	}

	if len(rows) == 0 {
		return fmt.Sprintf("No results found for: '%s'\n\nGenerated Query: %s\n\n"+
			"Try rephrasing your question or asking about:\n- Drug manufacturers\n- Adverse reactions\n- Patient demographics\n- Case statistics",
			question, query), nil
	}

	return g.counter.Truncate(FormatRows(question, query, rows), GraphOutputTokens), nil
}

// FormatRows renders query results one numbered line per row.
func FormatRows(question, query string, rows []Row) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Results for: '%s'\n\n", question)
	for i, row := range rows {
		parts := make([]string, 0, len(row.Keys))
		for j, key := range row.Keys {
			if row.Values[j] == nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s: %s", key, formatValue(row.Values[j])))
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.Join(parts, " | "))
	}
	fmt.Fprintf(&sb, "\nGenerated Query: %s\n", query)
	fmt.Fprintf(&sb, "Total results: %d", len(rows))
	return sb.String()
}

// formatValue joins lists, keeping at most five items.
func formatValue(v any) string {
	list, ok := v.([]any)
	if !ok {
		return fmt.Sprint(v)
	}
	items := make([]string, 0, 6)
	for i, item := range list {
		if i == 5 {
			items = append(items, "...")
			break
		}
		items = append(items, fmt.Sprint(item))
	}
	return strings.Join(items, ", ")
}
