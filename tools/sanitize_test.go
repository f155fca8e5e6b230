package tools

import (
	"strings"
	"testing"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		question string
		want     string
	}{
		{
			name:     "deprecated alternative syntax",
			query:    "MATCH (c:Case)-[:IS_PRIMARY_SUSPECT|:IS_CONCOMITANT]->(d:Drug) RETURN d.name",
			question: "list drugs",
			want:     "MATCH (c:Case)-[:IS_PRIMARY_SUSPECT|IS_CONCOMITANT]->(d:Drug) RETURN d.name",
		},
		{
			name:     "property filter injected",
			query:    "MATCH (d:Drug)<-[:IS_PRIMARY_SUSPECT]-(c:Case)<-[:REGISTERED]-(m:Manufacturer) RETURN m.manufacturerName",
			question: "Who manufactures tramadol?",
			want:     "MATCH (d:Drug {name: 'TRAMADOL'})<-[:IS_PRIMARY_SUSPECT]-(c:Case)<-[:REGISTERED]-(m:Manufacturer) RETURN m.manufacturerName",
		},
		{
			name:     "where inserted before return on one line",
			query:    "MATCH (c:Case)-[:IS_PRIMARY_SUSPECT]->(x:Drug) RETURN x.name",
			question: "adverse reactions of aspirin",
			want:     "MATCH (c:Case)-[:IS_PRIMARY_SUSPECT]->(x:Drug) WHERE toLower(d.name) CONTAINS 'aspirin' RETURN x.name",
		},
		{
			name:     "where line inserted after drug match",
			query:    "MATCH (c:Case)-[:IS_PRIMARY_SUSPECT]->(d:Drug {name: 'ASPIRIN'})\nRETURN c.primaryid",
			question: "side effects of tramadol",
			want:     "MATCH (c:Case)-[:IS_PRIMARY_SUSPECT]->(d:Drug {name: 'ASPIRIN'})\nWHERE toLower(d.name) CONTAINS 'tramadol'\nRETURN c.primaryid",
		},
		{
			name:     "already filtered",
			query:    "MATCH (d:Drug) WHERE toLower(d.name) CONTAINS 'tramadol' RETURN d.name",
			question: "tramadol reactions",
			want:     "MATCH (d:Drug) WHERE toLower(d.name) CONTAINS 'tramadol' RETURN d.name",
		},
		{
			name:     "no drug context",
			query:    "MATCH (d:Drug) RETURN d.name",
			question: "tell me about tramadol",
			want:     "MATCH (d:Drug) RETURN d.name",
		},
		{
			name:     "no drug pattern",
			query:    "MATCH (r:Reaction) RETURN r.description",
			question: "adverse reactions of metformin",
			want:     "MATCH (r:Reaction) RETURN r.description",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeQuery(tt.query, tt.question); got != tt.want {
				t.Fatalf("SanitizeQuery()\n got: %q\nwant: %q", got, tt.want)
			}
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		"```cypher\nMATCH (n) RETURN n\n```": "MATCH (n) RETURN n",
		"```\nMATCH (n) RETURN n":            "MATCH (n) RETURN n",
		"cypher MATCH (n) RETURN n":          "MATCH (n) RETURN n",
		"  MATCH (n) RETURN n  ":             "MATCH (n) RETURN n",
	}
	for in, want := range tests {
		if got := StripCodeFence(in); got != want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFallbackQuery(t *testing.T) {
	tests := []struct {
		question string
		contains []string
	}{
		{"Which drugs are most commonly primary suspects?", []string{"IS_PRIMARY_SUSPECT", "ORDER BY cases DESC"}},
		{"Which manufacturers make tramadol?", []string{"(d:Drug {name: 'TRAMADOL'})", "m.manufacturerName as manufacturer"}},
		{"Which drugs does the company Pfizer register?", []string{"{manufacturerName: 'PFIZER'}"}},
		{"Which companies report the most cases", []string{"total_cases"}},
		{"What adverse reactions does aspirin cause?", []string{"CONTAINS 'aspirin'", "HAS_REACTION"}},
		{"What are the common reactions?", []string{"(c:Case)-[:HAS_REACTION]->(r:Reaction)"}},
		{"Outcome distribution for metformin", []string{"(d:Drug {name: 'METFORMIN'})", "RESULTED_IN"}},
		{"hello", []string{"MATCH (d:Drug) RETURN d.name as drug_name LIMIT 10"}},
	}
	for _, tt := range tests {
		got := FallbackQuery(tt.question)
		for _, want := range tt.contains {
			if !strings.Contains(got, want) {
				t.Fatalf("FallbackQuery(%q) = %q, missing %q", tt.question, got, want)
			}
		}
	}
}
