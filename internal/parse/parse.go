package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"copier-fleet-backend/internal/model"
)

var (
	periodRe = regexp.MustCompile(`^(\d{4})\s*[-/.]\s*(\d{1,2})$`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// dateLayouts are tried in order; day-first is the local convention for spreadsheets.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	time.RFC3339,
}

// ParsePeriod extracts a calendar month from strings such as "2024-03", "2024/3" or "2024.03".
func ParsePeriod(raw string) (model.Period, error) {
	s := strings.TrimSpace(raw)
	m := periodRe.FindStringSubmatch(s)
	if m == nil {
		return model.Period{}, fmt.Errorf("unable to parse period: %q", raw)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	p := model.Period{Year: year, Month: month}
	if !p.Valid() {
		return model.Period{}, fmt.Errorf("period out of range: %q", raw)
	}
	return p, nil
}

// ParsePeriodParts builds a period from separate year and month strings, as sent in query params.
func ParsePeriodParts(year, month string) (model.Period, error) {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return model.Period{}, fmt.Errorf("invalid year %q", year)
	}
	m, err := strconv.Atoi(strings.TrimSpace(month))
	if err != nil {
		return model.Period{}, fmt.Errorf("invalid month %q", month)
	}
	p := model.Period{Year: y, Month: m}
	if !p.Valid() {
		return model.Period{}, fmt.Errorf("period out of range: %s", p)
	}
	return p, nil
}

// ParseOrderDate parses an order date in loc. Date-only layouts resolve to midnight.
func ParseOrderDate(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("order date is empty")
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse order date: %q", raw)
}

// NormalizeSerial canonicalises a machine serial number for lookup: surrounding and inner
// whitespace removed, upper case.
func NormalizeSerial(raw string) string {
	return strings.ToUpper(spaceRe.ReplaceAllString(strings.TrimSpace(raw), ""))
}

// NormalizeCode canonicalises an item code or part name for case-insensitive matching.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(spaceRe.ReplaceAllString(raw, " ")))
}
