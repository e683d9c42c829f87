package heuristic

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2}\b`),
	regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b`),
	regexp.MustCompile(`(?i)\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b`),
}

var (
	dueContext   = regexp.MustCompile(`(?i)\b(?:due|return by|submit by)\b`)
	eventContext = regexp.MustCompile(`(?i)\b(?:event|meet|pta|concert|performance|trip)\b`)

	slashDate    = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2}|\d{4})$`)
	monthDayYear = regexp.MustCompile(`(?i)^([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?$`)
)

var monthPrefixes = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

type span struct {
	start, end int
}

// findDates returns every date literal in text in order of appearance. Where two patterns
// match overlapping text the earlier, longer match is kept.
func findDates(text string) []string {
	var spans []span
	for _, re := range datePatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			spans = append(spans, span{start: loc[0], end: loc[1]})
		}
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	out := make([]string, 0, len(spans))
	lastEnd := -1
	for _, s := range spans {
		if s.start < lastEnd {
			continue
		}
		out = append(out, text[s.start:s.end])
		lastEnd = s.end
	}
	return out
}

// NormalizeDate converts a date literal to YYYY-MM-DD. Literals without a year take refYear.
// The literal is returned unchanged when it cannot be parsed into a valid calendar date.
func NormalizeDate(literal string, refYear int) string {
	trimmed := strings.TrimSpace(literal)
	if _, err := time.Parse(isoDate, trimmed); err == nil {
		return trimmed
	}

	if m := slashDate.FindStringSubmatch(trimmed); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		if formatted, ok := formatDate(year, time.Month(month), day); ok {
			return formatted
		}
		return literal
	}

	if m := monthDayYear.FindStringSubmatch(trimmed); m != nil {
		name := strings.ToLower(m[1])
		if len(name) < 3 {
			return literal
		}
		month, ok := monthPrefixes[name[:3]]
		if !ok {
			return literal
		}
		day, _ := strconv.Atoi(m[2])
		year := refYear
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		if formatted, ok := formatDate(year, month, day); ok {
			return formatted
		}
	}
	return literal
}

func formatDate(year int, month time.Month, day int) (string, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return "", false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Month() != month || t.Day() != day {
		return "", false
	}
	return t.Format(isoDate), true
}
