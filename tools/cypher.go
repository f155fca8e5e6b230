package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"pharmachat/llm"
)

// GraphSchema describes the adverse-event graph for query generation.
const GraphSchema = `Adverse event graph schema.

Nodes:
- Case: primaryid (Long), age (Double), ageUnit (String), gender (String), eventDate (Date), reportDate (Date), reporterOccupation (String)
- Drug: name (String), primarySubstabce (String)
- Manufacturer: manufacturerName (String)
- Reaction: description (String)
- ReportSource: name (String), code (String)
- Outcome: code (String), outcome (String)
- Therapy: primaryid (Long)
- AgeGroup: ageGroup (String)

Relationships, in stored direction:
- (Case)-[:IS_PRIMARY_SUSPECT]->(Drug)
- (Case)-[:IS_SECONDARY_SUSPECT]->(Drug)
- (Case)-[:IS_CONCOMITANT]->(Drug)
- (Case)-[:IS_INTERACTING]->(Drug)
- (Therapy)-[:PRESCRIBED]->(Drug)
- (Case)-[:RECEIVED]->(Therapy)
- (Manufacturer)-[:REGISTERED]->(Case)
- (Case)-[:HAS_REACTION]->(Reaction)
- (Case)-[:REPORTED_BY]->(ReportSource)
- (Case)-[:RESULTED_IN]->(Outcome)
- (Case)-[:FALLS_UNDER]->(AgeGroup)

Drug to manufacturer goes backwards through cases:
(d:Drug)<-[:IS_PRIMARY_SUSPECT|IS_SECONDARY_SUSPECT|IS_CONCOMITANT]-(c:Case)<-[:REGISTERED]-(m:Manufacturer)

Examples:
MATCH (c:Case)-[:IS_PRIMARY_SUSPECT]->(d:Drug) RETURN d.name AS drug_name, count(c) AS cases ORDER BY cases DESC LIMIT 15
MATCH (d:Drug)<-[:IS_PRIMARY_SUSPECT|IS_SECONDARY_SUSPECT|IS_CONCOMITANT]-(c:Case)<-[:REGISTERED]-(m:Manufacturer)
WHERE toLower(d.name) CONTAINS 'tramadol'
RETURN DISTINCT m.manufacturerName AS manufacturer, count(c) AS case_count ORDER BY case_count DESC LIMIT 10
MATCH (d:Drug)<-[:IS_PRIMARY_SUSPECT|IS_SECONDARY_SUSPECT]-(c:Case)-[:HAS_REACTION]->(r:Reaction)
WHERE toLower(d.name) CONTAINS 'tramadol'
RETURN r.description AS reaction, count(c) AS case_count ORDER BY case_count DESC LIMIT 15`

const cypherPromptTemplate = `Write one Cypher query that answers: %q

%s

Rules:
1. Use only the labels, properties and relationship directions above.
2. Write relationship alternatives as [:REL1|REL2] with no extra colons.
3. When the question names a drug, filter on it with WHERE toLower(d.name) CONTAINS 'name' or (d:Drug {name: 'NAME'}).
4. Use count() for counting questions and give every returned column an alias.
5. Order by relevance and LIMIT to 10-20 rows.

Reply with the Cypher query only.`

// QueryGenerator turns a question into Cypher.
type QueryGenerator interface {
	Generate(ctx context.Context, question string) (string, error)
}

// LLMQueryGenerator asks the completion service for a query.
type LLMQueryGenerator struct {
	client llm.Client
	model  string
	schema string
}

// NewLLMQueryGenerator creates a generator that shares client with the agent.
// model may be empty to use the client's default.
func NewLLMQueryGenerator(client llm.Client, model string) *LLMQueryGenerator {
	return &LLMQueryGenerator{client: client, model: model, schema: GraphSchema}
}

// Generate returns a cleaned query for question.
func (g *LLMQueryGenerator) Generate(ctx context.Context, question string) (string, error) {
	resp, err := g.client.Call(ctx, llm.Request{
		Model:       g.model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(cypherPromptTemplate, question, g.schema)}},
		MaxTokens:   500,
		Temperature: llm.Float64(0),
	})
	if err != nil {
		return "", fmt.Errorf("generate cypher: %w", err)
	}
	query := StripCodeFence(resp.Content)
	if query == "" {
		return "", fmt.Errorf("generate cypher: empty reply")
	}
	return query, nil
}

var (
	fallbackDrugs         = []string{"TRAMADOL", "ASPIRIN", "IBUPROFEN", "METFORMIN"}
	fallbackManufacturers = []string{"PFIZER", "ROCHE", "NOVARTIS"}
)

const suspectRels = "IS_PRIMARY_SUSPECT|IS_SECONDARY_SUSPECT|IS_CONCOMITANT"

// FallbackQuery picks a canned query from keywords in question. It is used
// when query generation fails.
func FallbackQuery(question string) string {
	q := strings.ToLower(question)

	switch {
	case strings.Contains(q, "most") && strings.Contains(q, "suspect"):
		return "MATCH (c:Case)-[:IS_PRIMARY_SUSPECT]->(d:Drug) RETURN d.name as drug_name, count(c) as cases ORDER BY cases DESC LIMIT 15"

	case containsAny(q, "manufacturer", "company", "companies"):
		if word := findWord(question, slices.Concat(fallbackDrugs, fallbackManufacturers)); word != "" {
			if slices.Contains(fallbackManufacturers, word) {
				return fmt.Sprintf("MATCH (d:Drug)<-[:%s]-(c:Case)<-[:REGISTERED]-(m:Manufacturer {manufacturerName: '%s'}) RETURN DISTINCT d.name as drug_name, count(c) as case_count ORDER BY case_count DESC LIMIT 10", suspectRels, word)
			}
			return fmt.Sprintf("MATCH (d:Drug {name: '%s'})<-[:%s]-(c:Case)<-[:REGISTERED]-(m:Manufacturer) RETURN DISTINCT m.manufacturerName as manufacturer, count(c) as case_count ORDER BY case_count DESC LIMIT 10", word, suspectRels)
		}
		return "MATCH (m:Manufacturer)-[:REGISTERED]->(c:Case) RETURN m.manufacturerName as manufacturer, count(c) as total_cases ORDER BY total_cases DESC LIMIT 10"

	case containsAny(q, "reaction", "adverse", "side effect"):
		if word := findWord(question, fallbackDrugs); word != "" {
			return fmt.Sprintf("MATCH (d:Drug)<-[:IS_PRIMARY_SUSPECT|IS_SECONDARY_SUSPECT]-(c:Case)-[:HAS_REACTION]->(r:Reaction) WHERE toLower(d.name) CONTAINS '%s' RETURN r.description as reaction, count(c) as case_count ORDER BY case_count DESC LIMIT 15", strings.ToLower(word))
		}
		return "MATCH (c:Case)-[:HAS_REACTION]->(r:Reaction) RETURN r.description as reaction, count(c) as cases ORDER BY cases DESC LIMIT 15"

	case containsAny(q, "age group", "outcome", "demographic"):
		if word := findWord(question, fallbackDrugs); word != "" {
			switch {
			case strings.Contains(q, "age"):
				return fmt.Sprintf("MATCH (d:Drug {name: '%s'})<-[:%s]-(c:Case)-[:FALLS_UNDER]->(a:AgeGroup) RETURN a.ageGroup as age_group, count(c) as case_count ORDER BY case_count DESC", word, suspectRels)
			case strings.Contains(q, "outcome"):
				return fmt.Sprintf("MATCH (d:Drug {name: '%s'})<-[:%s]-(c:Case)-[:RESULTED_IN]->(o:Outcome) RETURN o.outcome as outcome, count(c) as case_count ORDER BY case_count DESC", word, suspectRels)
			}
		}
		return "MATCH (c:Case)-[:FALLS_UNDER]->(a:AgeGroup) RETURN a.ageGroup as age_group, count(c) as cases ORDER BY cases DESC LIMIT 10"

	default:
		return "MATCH (d:Drug) RETURN d.name as drug_name LIMIT 10"
	}
}

// findWord returns the first word of question that, stripped of punctuation
// and upper-cased, is one of candidates.
func findWord(question string, candidates []string) string {
	for _, word := range strings.Fields(question) {
		clean := strings.ToUpper(strings.Trim(word, ".,?!:;"))
		if len(clean) > 3 && slices.Contains(candidates, clean) {
			return clean
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
