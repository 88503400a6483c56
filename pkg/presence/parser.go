package presence

import (
	"regexp"
	"strings"
)

// ResultKind tags the outcome of one parse attempt
type ResultKind int

const (
	ResultRows ResultKind = iota
	ResultEmpty
	ResultUnparseable
)

// ParseResult is the tagged outcome of parsing a presence listing
type ParseResult struct {
	Kind ResultKind
	Rows []string // raw player names, not yet normalized
}

// format is one response shape the server may answer with
type format struct {
	name  string
	parse func(string) ParseResult
}

// formats is the fixed fallback order. The first shape that yields rows
// wins; only after all of them come up empty is the server considered
// empty.
var formats = []format{
	{name: "numbered", parse: parseNumbered},
	{name: "quoted", parse: parseQuoted},
	{name: "tabular", parse: parseTabular},
}

var (
	// `12. "Name" 76561198000000001 ...`
	numberedRow = regexp.MustCompile(`^\s*\d+\.\s+"(.+?)"`)

	// `"Name"` possibly surrounded by other text on its own row
	quotedRow = regexp.MustCompile(`^\s*"([^"]+)"\s*$`)

	// `76561198000000001 ; Name ; 45ms` or whitespace-delimited with a
	// numeric platform id leading the row
	tabularSemicolon = regexp.MustCompile(`^\s*\d{15,20}\s*;\s*(.+?)\s*;`)
	tabularSpaces    = regexp.MustCompile(`^\s*\d{15,20}\s+(\S.*?)(?:\s+\d+ms|\s+\d+s|\s+\d+m)?\s*$`)
)

// Parse runs the fixed strategy list over a raw response
func Parse(response string) ParseResult {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return ParseResult{Kind: ResultEmpty}
	}

	sawParseable := false
	for _, f := range formats {
		res := f.parse(response)
		switch res.Kind {
		case ResultRows:
			return res
		case ResultEmpty:
			sawParseable = true
		}
	}

	if sawParseable {
		return ParseResult{Kind: ResultEmpty}
	}
	return ParseResult{Kind: ResultUnparseable}
}

func parseNumbered(response string) ParseResult {
	var rows []string
	for _, line := range strings.Split(response, "\n") {
		if m := numberedRow.FindStringSubmatch(line); m != nil {
			rows = append(rows, m[1])
		}
	}
	if len(rows) == 0 {
		return ParseResult{Kind: ResultUnparseable}
	}
	return ParseResult{Kind: ResultRows, Rows: rows}
}

func parseQuoted(response string) ParseResult {
	var rows []string
	for _, line := range strings.Split(response, "\n") {
		if m := quotedRow.FindStringSubmatch(line); m != nil {
			rows = append(rows, m[1])
		}
	}
	if len(rows) == 0 {
		return ParseResult{Kind: ResultUnparseable}
	}
	return ParseResult{Kind: ResultRows, Rows: rows}
}

func parseTabular(response string) ParseResult {
	var rows []string
	lines := strings.Split(response, "\n")
	header := false
	for _, line := range lines {
		// Header rows name the columns; their presence means the shape
		// is tabular even when no players are listed.
		lower := strings.ToLower(line)
		if strings.Contains(lower, "steamid") || (strings.Contains(lower, "name") && strings.Contains(lower, "ping")) {
			header = true
			continue
		}
		if m := tabularSemicolon.FindStringSubmatch(line); m != nil {
			rows = append(rows, m[1])
			continue
		}
		if m := tabularSpaces.FindStringSubmatch(line); m != nil {
			rows = append(rows, m[1])
		}
	}
	if len(rows) > 0 {
		return ParseResult{Kind: ResultRows, Rows: rows}
	}
	if header {
		return ParseResult{Kind: ResultEmpty}
	}
	return ParseResult{Kind: ResultUnparseable}
}
