package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Row is one result record with its columns in query order.
type Row struct {
	Keys   []string
	Values []any
}

// Get returns the value of column key.
func (r Row) Get(key string) (any, bool) {
	for i, k := range r.Keys {
		if k == key {
			return r.Values[i], true
		}
	}
	return nil, false
}

// GraphRunner executes read queries against the graph.
type GraphRunner interface {
	Run(ctx context.Context, query string, params map[string]any) ([]Row, error)
}

// QueryError is a query the database rejected, as opposed to a failure to
// reach the database.
type QueryError struct {
	Code string
	Err  error
}

func (e *QueryError) Error() string { return e.Err.Error() }
func (e *QueryError) Unwrap() error { return e.Err }

// Neo4jConfig configures the graph connection.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// ConnectTimeout bounds connectivity verification at startup.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Neo4jRunner runs queries over one pooled driver shared by all tool calls.
type Neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jRunner creates the driver and verifies connectivity, retrying with
// exponential backoff until cfg.ConnectTimeout elapses.
func NewNeo4jRunner(ctx context.Context, cfg Neo4jConfig, logger *slog.Logger) (*Neo4jRunner, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j: uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: create driver: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := driver.VerifyConnectivity(ctx); err != nil {
			logger.Warn("neo4j not reachable yet", "uri", cfg.URI, "attempt", attempt, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(timeout))
	if err != nil {
		driver.Close(context.Background())
		return nil, fmt.Errorf("neo4j: verify connectivity to %s: %w", cfg.URI, err)
	}

	logger.Info("neo4j connected", "uri", cfg.URI, "database", cfg.Database)
	return &Neo4jRunner{driver: driver, database: cfg.Database}, nil
}

// Run executes query with reader routing.
func (r *Neo4jRunner) Run(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if r.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(r.database))
	}

	result, err := neo4j.ExecuteQuery(ctx, r.driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		var neoErr *neo4j.Neo4jError
		if errors.As(err, &neoErr) && strings.HasPrefix(neoErr.Code, "Neo.ClientError.") {
			return nil, &QueryError{Code: neoErr.Code, Err: err}
		}
		return nil, err
	}

	rows := make([]Row, 0, len(result.Records))
	for _, rec := range result.Records {
		rows = append(rows, Row{Keys: rec.Keys, Values: rec.Values})
	}
	return rows, nil
}

// Close releases the driver's connection pool.
func (r *Neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// SchemaReport is a snapshot of what the graph actually contains.
type SchemaReport struct {
	Labels            []string
	RelationshipTypes []string
	Samples           []LabelSample
}

// LabelSample holds example node properties for one label.
type LabelSample struct {
	Label string
	Nodes []map[string]any
}

// ProbeSchema lists labels and relationship types and samples up to
// nodesPerLabel nodes for each of the first maxLabels labels.
func ProbeSchema(ctx context.Context, runner GraphRunner, maxLabels, nodesPerLabel int) (*SchemaReport, error) {
	labels, err := column(ctx, runner, "CALL db.labels()", "label")
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	rels, err := column(ctx, runner, "CALL db.relationshipTypes()", "relationshipType")
	if err != nil {
		return nil, fmt.Errorf("list relationship types: %w", err)
	}

	report := &SchemaReport{Labels: labels, RelationshipTypes: rels}
	for i, label := range labels {
		if i >= maxLabels {
			break
		}
		query := fmt.Sprintf("MATCH (n:`%s`) RETURN n LIMIT $limit", strings.ReplaceAll(label, "`", "``"))
		rows, err := runner.Run(ctx, query, map[string]any{"limit": nodesPerLabel})
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", label, err)
		}
		sample := LabelSample{Label: label}
		for _, row := range rows {
			v, _ := row.Get("n")
			sample.Nodes = append(sample.Nodes, nodeProps(v))
		}
		report.Samples = append(report.Samples, sample)
	}
	return report, nil
}

// String renders the report as plain text.
func (s *SchemaReport) String() string {
	var sb strings.Builder
	sb.WriteString("Graph Schema Analysis:\n\n")
	fmt.Fprintf(&sb, "Node Labels: %s\n\n", strings.Join(s.Labels, ", "))
	fmt.Fprintf(&sb, "Relationship Types: %s\n\n", strings.Join(s.RelationshipTypes, ", "))
	for _, sample := range s.Samples {
		fmt.Fprintf(&sb, "Sample %s nodes:\n", sample.Label)
		for i, props := range sample.Nodes {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, formatProps(props))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func column(ctx context.Context, runner GraphRunner, query, key string) ([]string, error) {
	rows, err := runner.Run(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row.Get(key); ok {
			out = append(out, fmt.Sprint(v))
		}
	}
	return out, nil
}

func nodeProps(v any) map[string]any {
	switch n := v.(type) {
	case neo4j.Node:
		return n.Props
	case *neo4j.Node:
		return n.Props
	case map[string]any:
		return n
	default:
		return map[string]any{"value": v}
	}
}

// formatProps renders a property map with sorted keys.
func formatProps(props map[string]any) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, props[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
