package tools

import (
	"fmt"
	"strings"
)

// KnownDrugs are the drug names the query sanitizer recognises in questions.
var KnownDrugs = []string{"TRAMADOL", "ASPIRIN", "IBUPROFEN", "METFORMIN", "REVLIMID", "CUVITRU"}

// drugContextKeywords mark a question as being about one specific drug.
var drugContextKeywords = []string{"manufactures", "manufacturer", "side effects", "reactions", "adverse"}

// SanitizeQuery repairs common defects in generated Cypher. It rewrites the
// deprecated "|:" alternative-relationship syntax and, when the question
// names a known drug in a drug-specific context but the query does not filter
// on it, injects the filter. The rewrite is best effort: a query it cannot
// place a filter in is returned with only the syntax fix.
func SanitizeQuery(query, question string) string {
	query = strings.ReplaceAll(query, "|:", "|")

	drug := mentionedDrug(question)
	if drug == "" || !hasDrugContext(question) {
		return query
	}
	if !strings.Contains(query, "d:Drug") && !strings.Contains(query, "Drug)") {
		return query
	}
	if hasDrugFilter(query, drug) {
		return query
	}

	lower := strings.ToLower(drug)
	where := fmt.Sprintf("WHERE toLower(d.name) CONTAINS '%s'", lower)

	switch {
	case strings.Contains(query, "(d:Drug)"):
		return strings.Replace(query, "(d:Drug)", fmt.Sprintf("(d:Drug {name: '%s'})", drug), 1)
	case strings.Contains(query, "WHERE"):
		return query
	case !strings.Contains(query, "\n") && strings.Contains(query, "RETURN"):
		parts := strings.Split(query, "RETURN")
		if len(parts) != 2 {
			return query
		}
		return fmt.Sprintf("%s %s RETURN%s", strings.TrimSpace(parts[0]), where, parts[1])
	default:
		return insertWhereLine(query, where)
	}
}

// insertWhereLine puts where after the first MATCH line binding d:Drug, or
// failing that before the first RETURN line.
func insertWhereLine(query, where string) string {
	lines := strings.Split(query, "\n")
	out := make([]string, 0, len(lines)+1)

	inserted := false
	for _, line := range lines {
		out = append(out, line)
		if !inserted && strings.HasPrefix(strings.TrimSpace(line), "MATCH") && strings.Contains(line, "d:Drug") {
			out = append(out, where)
			inserted = true
		}
	}
	if inserted {
		return strings.Join(out, "\n")
	}

	out = out[:0]
	for _, line := range lines {
		if !inserted && strings.HasPrefix(strings.TrimSpace(line), "RETURN") {
			out = append(out, where)
			inserted = true
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func mentionedDrug(question string) string {
	q := strings.ToLower(question)
	for _, drug := range KnownDrugs {
		if strings.Contains(q, strings.ToLower(drug)) {
			return drug
		}
	}
	return ""
}

func hasDrugContext(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range drugContextKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func hasDrugFilter(query, drug string) bool {
	if strings.Contains(query, fmt.Sprintf("{name: '%s'}", drug)) || strings.Contains(query, fmt.Sprintf("{name:'%s'}", drug)) {
		return true
	}
	return strings.Contains(query, "WHERE") && strings.Contains(strings.ToLower(query), strings.ToLower(drug))
}

// StripCodeFence removes a markdown code fence and a leading "cypher" tag
// from model output.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")[1:]
		if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
			lines = lines[:n-1]
		}
		s = strings.Join(lines, "\n")
	}
	if strings.HasPrefix(s, "cypher") {
		s = strings.TrimSpace(s[len("cypher"):])
	}
	return strings.TrimSpace(s)
}
