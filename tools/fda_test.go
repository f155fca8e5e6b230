package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tidwall/gjson"

	"pharmachat/tokens"
)

const eventsFixture = `{"results": [
  {"receivedate": "20240115", "serious": "1",
   "patient": {"drug": [{"medicinalproduct": "ASPIRIN 81MG"}, {"medicinalproduct": "LISINOPRIL"}, {"medicinalproduct": "BABY ASPIRIN"}],
               "reaction": [{"reactionmeddrapt": "Nausea"}, {"reactionmeddrapt": "Headache"}, {"reactionmeddrapt": "Rash"}, {"reactionmeddrapt": "Dizziness"}]}},
  {"receivedate": "", "serious": "2",
   "patient": {"drug": [{"medicinalproduct": "METFORMIN"}], "reaction": []}}
]}`

func newFDATool(t *testing.T, baseURL string) *AdverseEventsTool {
	t.Helper()
	tool, err := NewAdverseEventsTool(FDAConfig{BaseURL: baseURL}, tokens.Estimator(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return tool
}

func TestAdverseEventsTool_Lookup(t *testing.T) {
	var searches []string
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/drug/event.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("sort") != "receivedate:desc" || q.Get("limit") != "5" {
			t.Errorf("unexpected query %v", q)
		}
		search := q.Get("search")
		searches = append(searches, search)
		if search != "patient.drug.medicinalproduct:*ASPIRIN*" {
			http.Error(w, `{"error":{"code":"NOT_FOUND"}}`, http.StatusNotFound)
			return
		}
		hits.Add(1)
		w.Write([]byte(eventsFixture))
	}))
	defer srv.Close()

	tool := newFDATool(t, srv.URL)
	out, err := tool.Lookup(context.Background(), "aspirin", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(searches) != 2 || searches[0] != "patient.drug.medicinalproduct:ASPIRIN" {
		t.Fatalf("unexpected search sequence %v", searches)
	}
	for _, want := range []string{
		"Top 2 most recent adverse events for drugs containing 'aspirin':",
		"Drug: ASPIRIN 81MG (and 1 other ASPIRIN-containing drugs)",
		"Date: 01/15/2024",
		"Severity: Serious",
		"Reactions: Nausea, Headache, Rash, ...and more",
		"Event #2:\n  Drug: METFORMIN\n  Date: Unknown\n  Severity: Non-serious\n  Reactions: No reactions recorded",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := tool.Lookup(context.Background(), "aspirin", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected cached response on second lookup, got %d hits", hits.Load())
	}
}

func TestAdverseEventsTool_NotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("limit") != "10" {
			t.Errorf("expected default limit 10, got %s", r.URL.Query().Get("limit"))
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	out, err := newFDATool(t, srv.URL).Lookup(context.Background(), "zzzz", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected all 4 search templates tried, got %d", calls.Load())
	}
	if !strings.HasPrefix(out, "No recent adverse events found for drugs containing 'zzzz'") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestAdverseEventsTool_LimitClamped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("expected limit clamped to 100, got %s", got)
		}
		w.Write([]byte(eventsFixture))
	}))
	defer srv.Close()

	if _, err := newFDATool(t, srv.URL).Lookup(context.Background(), "aspirin", 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdverseEventsTool_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := newFDATool(t, url).Lookup(context.Background(), "aspirin", 1); err == nil {
		t.Fatal("expected error when openFDA is unreachable")
	}
}

func TestAdverseEventsTool_EmptyDrug(t *testing.T) {
	if _, err := newFDATool(t, "http://unused").Lookup(context.Background(), " ", 1); err == nil {
		t.Fatal("expected error for empty drug name")
	}
}

func TestFormatEvents_FirstDrugWhenNoneMatch(t *testing.T) {
	results := gjson.Parse(`[{"receivedate":"2023","serious":"x","patient":{"drug":[{"medicinalproduct":"OTHER"}]}}]`).Array()
	out := FormatEvents("aspirin", results)
	for _, want := range []string{"Drug: OTHER", "Date: 2023", "Severity: Unknown severity"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
