package tools

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/afero"

	"pharmachat/agent"
	"pharmachat/tokens"
)

// ReportToolName is the registered name of the document search tool.
const ReportToolName = "read_financial_report"

const reportDescription = `Search the company's PDF financial reports. Finds phrases, names, locations, ` +
	`financial figures (revenue, profit) and other passages and returns them with page numbers. ` +
	`The query may also name a specific PDF file. Examples: "Grünenthal is headquartered", "revenue 2023", "who wrote this report".`

// ReportOutputTokens is the output budget of the document search tool.
const ReportOutputTokens = 1500

const (
	maxSections  = 10
	contextLines = 2
)

// preferredNameTerms rank report files when no file is named.
var preferredNameTerms = []string{"financial", "annual", "quarterly", "report"}

type reportInput struct {
	Query string `json:"query,omitempty" jsonschema:"description=Phrase or keywords to find; or a PDF file name. Empty returns the whole report"`
}

// DocumentSearchTool searches PDF reports under one directory.
type DocumentSearchTool struct {
	fs      afero.Fs // rooted at the reports directory
	dirName string
	extract PageExtractor
	counter *tokens.Counter
	logger  *slog.Logger
}

// NewDocumentSearchTool creates the tool over dir on base. extract may be nil
// to use ExtractPDFPages.
func NewDocumentSearchTool(base afero.Fs, dir string, extract PageExtractor, counter *tokens.Counter, logger *slog.Logger) *DocumentSearchTool {
	if extract == nil {
		extract = ExtractPDFPages
	}
	if counter == nil {
		counter = tokens.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentSearchTool{
		fs:      afero.NewBasePathFs(base, dir),
		dirName: dir,
		extract: extract,
		counter: counter,
		logger:  logger,
	}
}

// Tool exposes the search as an agent tool.
func (d *DocumentSearchTool) Tool() agent.Tool {
	return agent.NewTool(ReportToolName, reportDescription, func(ctx context.Context, in reportInput) (string, error) {
		return d.Search(ctx, in.Query)
	})
}

// Search picks a report and returns the passages matching query.
func (d *DocumentSearchTool) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)

	files, err := d.listReports()
	if err != nil {
		return "", fmt.Errorf("reading financial report: %w", err)
	}
	if len(files) == 0 {
		return fmt.Sprintf("No PDF files found in the '%s' folder. Please place your financial report PDF in this folder.\n\n"+
			"Example: %s/grunenthal_annual_report_2024.pdf", d.dirName, d.dirName), nil
	}

	file := d.chooseReport(query, files)
	pages, err := d.readPages(file)
	if err != nil {
		return "", fmt.Errorf("reading financial report %s: %w", path.Base(file), err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var body string
	if query != "" && !isPDFName(query) {
		body = strings.Join(findSections(pages, query), "\n\n")
	}
	if body == "" {
		body = wholeText(pages)
		if strings.TrimSpace(body) == "" || allBlank(pages) {
			return "", fmt.Errorf("PDF file '%s' appears to be empty or could not be read", path.Base(file))
		}
	}

	out := fmt.Sprintf("Financial Report Summary (from %s):\n\n%s", path.Base(file), body)
	return d.counter.Truncate(out, ReportOutputTokens), nil
}

// listReports returns all PDFs below the reports directory, sorted.
func (d *DocumentSearchTool) listReports() ([]string, error) {
	matches, err := doublestar.Glob(afero.NewIOFS(d.fs), "**/*.{pdf,PDF}")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// chooseReport resolves a file named by query, first literally, then by fuzzy
// match on file names. Without a file reference it prefers report-like names
// and falls back to the first file.
func (d *DocumentSearchTool) chooseReport(query string, files []string) string {
	if isPDFName(query) {
		ref := path.Clean(strings.ReplaceAll(query, "\\", "/"))
		for _, prefix := range []string{path.Clean(d.dirName) + "/", path.Base(d.dirName) + "/", "/"} {
			ref = strings.TrimPrefix(ref, prefix)
		}
		if ok, _ := afero.Exists(d.fs, ref); ok {
			return ref
		}
		names := make([]string, len(files))
		for i, f := range files {
			names[i] = path.Base(f)
		}
		if m := fuzzy.Find(path.Base(ref), names); len(m) > 0 {
			return files[m[0].Index]
		}
		d.logger.Debug("named report not found, choosing by name", "query", query)
	}

	if len(files) == 1 {
		return files[0]
	}
	for _, f := range files {
		name := strings.ToLower(path.Base(f))
		for _, term := range preferredNameTerms {
			if strings.Contains(name, term) {
				return f
			}
		}
	}
	return files[0]
}

func (d *DocumentSearchTool) readPages(name string) ([]string, error) {
	f, err := d.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return d.extract(f, info.Size())
}

// findSections returns up to ten distinct passages of +-2 lines around each
// line containing query, or, when the phrase never occurs, any of its words.
func findSections(pages []string, query string) []string {
	q := strings.ToLower(query)
	sections := collect(pages, func(line string) bool {
		return strings.Contains(line, q)
	})
	if len(sections) == 0 {
		words := strings.Fields(q)
		sections = collect(pages, func(line string) bool {
			for _, w := range words {
				if strings.Contains(line, w) {
					return true
				}
			}
			return false
		})
	}
	return sections
}

func collect(pages []string, match func(lowerLine string) bool) []string {
	var out []string
	seen := make(map[string]bool)
	for i, page := range pages {
		lines := strings.Split(page, "\n")
		for j, line := range lines {
			if !match(strings.ToLower(line)) {
				continue
			}
			start := max(0, j-contextLines)
			end := min(len(lines), j+contextLines+1)
			section := fmt.Sprintf("[PAGE %d] %s", i+1, strings.Join(lines[start:end], "\n"))
			if seen[section] {
				continue
			}
			seen[section] = true
			out = append(out, section)
			if len(out) >= maxSections {
				return out
			}
		}
	}
	return out
}

func wholeText(pages []string) string {
	var sb strings.Builder
	for i, p := range pages {
		fmt.Fprintf(&sb, "\n--- PAGE %d ---\n%s", i+1, p)
	}
	return sb.String()
}

func allBlank(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return false
		}
	}
	return true
}

func isPDFName(s string) bool {
	return strings.HasSuffix(strings.ToLower(s), ".pdf")
}
