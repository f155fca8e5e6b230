package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maypok86/otter"
	"github.com/tidwall/gjson"

	"pharmachat/agent"
	"pharmachat/tokens"
)

// AdverseEventsToolName is the registered name of the openFDA lookup tool.
const AdverseEventsToolName = "get_adverse_events"

const adverseEventsDescription = `Look up the most recent adverse events reported to the FDA (openFDA drug event API) ` +
	`for drugs whose name contains a keyword. Returns drug, report date, severity and reactions per event.`

// DefaultOpenFDABaseURL is the public openFDA API root.
const DefaultOpenFDABaseURL = "https://api.fda.gov"

// AdverseEventsOutputTokens is the output budget of the openFDA tool.
const AdverseEventsOutputTokens = 2000

const (
	defaultEventLimit = 10
	maxEventLimit     = 100
	maxReactions      = 3
)

// FDAConfig configures the openFDA client.
type FDAConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

type adverseEventsInput struct {
	DrugName string `json:"drug_name" jsonschema:"description=Keyword contained in the drug name (brand or generic)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Number of events to return (default 10)"`
}

// AdverseEventsTool queries the openFDA drug adverse event endpoint.
type AdverseEventsTool struct {
	baseURL string
	client  *http.Client
	cache   *otter.Cache[string, []byte]
	counter *tokens.Counter
	logger  *slog.Logger
}

// NewAdverseEventsTool creates the tool with an in-process response cache.
func NewAdverseEventsTool(cfg FDAConfig, counter *tokens.Counter, logger *slog.Logger) (*AdverseEventsTool, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenFDABaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if counter == nil {
		counter = tokens.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := otter.MustBuilder[string, []byte](cfg.CacheSize).
		WithTTL(cfg.CacheTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build openfda cache: %w", err)
	}

	return &AdverseEventsTool{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   &cache,
		counter: counter,
		logger:  logger,
	}, nil
}

// Tool exposes the lookup as an agent tool.
func (f *AdverseEventsTool) Tool() agent.Tool {
	return agent.NewTool(AdverseEventsToolName, adverseEventsDescription, func(ctx context.Context, in adverseEventsInput) (string, error) {
		return f.Lookup(ctx, in.DrugName, in.Limit)
	})
}

// searchQueries lists the search expressions tried in order, most specific
// first.
func searchQueries(drug string) []string {
	upper, lower := strings.ToUpper(drug), strings.ToLower(drug)
	return []string{
		"patient.drug.medicinalproduct:" + upper,
		"patient.drug.medicinalproduct:*" + upper + "*",
		"patient.drug.openfda.generic_name:" + lower,
		"patient.drug.openfda.brand_name:*" + upper + "*",
	}
}

// Lookup returns the most recent events for drugs containing drug. limit
// defaults to 10 and is capped at 100.
func (f *AdverseEventsTool) Lookup(ctx context.Context, drug string, limit int) (string, error) {
	drug = strings.TrimSpace(drug)
	if drug == "" {
		return "", errors.New("drug_name must not be empty")
	}
	switch {
	case limit <= 0:
		limit = defaultEventLimit
	case limit > maxEventLimit:
		limit = maxEventLimit
	}

	var results []gjson.Result
	for _, search := range searchQueries(drug) {
		body, err := f.fetch(ctx, search, limit)
		if err != nil {
			return "", fmt.Errorf("fetching adverse events: %w", err)
		}
		if body == nil {
			continue
		}
		if r := gjson.GetBytes(body, "results").Array(); len(r) > 0 {
			results = r
			break
		}
	}

	if len(results) == 0 {
		return fmt.Sprintf("No recent adverse events found for drugs containing '%s'. This could mean:\n"+
			"1. No events reported recently\n2. Drug name not found in FDA database\n3. Try a different spelling or generic name", drug), nil
	}

	return f.counter.Truncate(FormatEvents(drug, results), AdverseEventsOutputTokens), nil
}

// fetch returns the response body for one search, or nil when openFDA
// answers with a non-200 status (404 means no matches).
func (f *AdverseEventsTool) fetch(ctx context.Context, search string, limit int) ([]byte, error) {
	q := url.Values{}
	q.Set("search", search)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "receivedate:desc")
	u := f.baseURL + "/drug/event.json?" + q.Encode()

	if body, ok := f.cache.Get(u); ok {
		return body, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		f.logger.Debug("openfda search returned no data", "search", search, "status", resp.StatusCode)
		return nil, nil
	}

	f.cache.Set(u, body)
	return body, nil
}

// FormatEvents renders openFDA event records.
func FormatEvents(drug string, results []gjson.Result) string {
	upper := strings.ToUpper(drug)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Top %d most recent adverse events for drugs containing '%s':\n\n", len(results), drug)
	for i, r := range results {
		reactions := make([]string, 0, maxReactions+1)
		for j, rx := range r.Get("patient.reaction.#.reactionmeddrapt").Array() {
			if j == maxReactions {
				reactions = append(reactions, "...and more")
				break
			}
			reactions = append(reactions, rx.String())
		}
		reactionText := "No reactions recorded"
		if len(reactions) > 0 {
			reactionText = strings.Join(reactions, ", ")
		}

		fmt.Fprintf(&sb, "Event #%d:\n", i+1)
		fmt.Fprintf(&sb, "  Drug: %s\n", eventDrug(r, upper))
		fmt.Fprintf(&sb, "  Date: %s\n", formatReceiveDate(r.Get("receivedate").String()))
		fmt.Fprintf(&sb, "  Severity: %s\n", severity(r.Get("serious").String()))
		fmt.Fprintf(&sb, "  Reactions: %s\n\n", reactionText)
	}
	return sb.String()
}

// eventDrug names the first drug matching the search term, counting the
// other matches, or the first listed drug when none matches.
func eventDrug(r gjson.Result, upper string) string {
	var matching []string
	for _, d := range r.Get("patient.drug.#.medicinalproduct").Array() {
		if strings.Contains(strings.ToUpper(d.String()), upper) {
			matching = append(matching, d.String())
		}
	}
	switch {
	case len(matching) > 1:
		return fmt.Sprintf("%s (and %d other %s-containing drugs)", matching[0], len(matching)-1, upper)
	case len(matching) == 1:
		return matching[0]
	}
	if first := r.Get("patient.drug.0.medicinalproduct"); first.Exists() {
		return first.String()
	}
	return "Unknown drug"
}

// formatReceiveDate turns YYYYMMDD into MM/DD/YYYY.
func formatReceiveDate(d string) string {
	if d == "" {
		return "Unknown"
	}
	if len(d) != 8 {
		return d
	}
	return d[4:6] + "/" + d[6:8] + "/" + d[:4]
}

func severity(serious string) string {
	switch serious {
	case "1":
		return "Serious"
	case "2":
		return "Non-serious"
	default:
		return "Unknown severity"
	}
}
