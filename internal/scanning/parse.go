package scanning

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const money = `(\d{1,3}(?:,\d{3})+\.\d{2}|\d+\.\d{2})`

// Patterns are listed in priority order. Within one pattern the leftmost
// match in reading order wins.
var (
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:total|amount)\b:?\s*\$?\s*` + money),
		regexp.MustCompile(`\$\s*` + money),
	}

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bdate\b:?\s*(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})`),
		regexp.MustCompile(`\b(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})\b`),
		regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`),
	}

	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
)

// dateLayouts are tried by NormalizeDate, US month-first layouts before
// day-first ones.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"01-02-2006",
	"1-2-2006",
	"01-02-06",
	"02.01.2006",
	"2.1.2006",
	"02.01.06",
}

// ParseText applies the extraction rules to recognized receipt text. Amount,
// date and vendor are extracted independently; any of them may be nil.
func ParseText(text string) ExtractionResult {
	text = normalizeText(text)
	result := ExtractionResult{
		RawText: text,
		Lines:   nonBlankLines(text),
	}

	if amount, ok := parseAmount(text); ok {
		result.Amount = decimal.NewNullDecimal(amount)
	}
	if date, ok := firstSubmatch(datePatterns, text); ok {
		result.Date = &date
	}
	if len(result.Lines) > 0 {
		vendor := result.Lines[0]
		result.Vendor = &vendor
	}

	return result
}

// NormalizeDate parses a date the way receipts print them. The second return
// value reports whether any known layout matched.
func NormalizeDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, raw); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

func parseAmount(text string) (decimal.Decimal, bool) {
	raw, ok := firstSubmatch(amountPatterns, text)
	if !ok {
		return decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return amount, true
}

func firstSubmatch(patterns []*regexp.Regexp, text string) (string, bool) {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func normalizeText(s string) string {
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func nonBlankLines(text string) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// cleanTranscript strips the markdown fences LLM backends like to wrap
// their answers in.
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```text", "```plaintext", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			break
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
