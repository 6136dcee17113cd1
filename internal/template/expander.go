package template

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MSubhan6/open-moniker/internal/moniker"
)

// ErrTemplateMissing reports a placeholder the expander could not satisfy,
// either unknown or referencing a segment that was not supplied.
var ErrTemplateMissing = errors.New("template placeholder unresolved")

var (
	segmentRef     = regexp.MustCompile(`\{segments\[(\d+)\]\}`)
	segmentDateRef = regexp.MustCompile(`\{segments\[(\d+)\]:date\}`)
	isAllRef       = regexp.MustCompile(`\{is_all\[(\d+)\]\}`)
	filterRef      = regexp.MustCompile(`\{filter\[(\d+)\]:(\w+)\}`)
	leftoverRef    = regexp.MustCompile(`\{[A-Za-z_]+(\[\d+\])?(:\w+)?\}`)
)

// Expand substitutes the moniker's parts into a query template using the
// given dialect for SQL fragments.
//
// Raw placeholders: {path}, {segments[N]}, {version}, {revision},
// {namespace}. SQL-translated: {version_date}, {current_date},
// {filter[N]:col}, {is_all[N]}, {is_latest}, {segments[N]:date}.
//
// Segment values are single-quoted with embedded quotes doubled wherever
// they land inside SQL. A {segments[N]} out of range is an error; a
// {filter[N]:col} out of range collapses to the dialect's no-op predicate.
func Expand(tmpl string, m *moniker.Moniker, d Dialect) (string, error) {
	if d == nil {
		d = DialectFor("snowflake")
	}
	segments := m.Segments
	result := tmpl
	var expandErr error

	fail := func(format string, args ...any) string {
		if expandErr == nil {
			expandErr = fmt.Errorf("%w: %s", ErrTemplateMissing, fmt.Sprintf(format, args...))
		}
		return ""
	}

	// {segments[N]:date} before {segments[N]} so the longer form wins.
	result = segmentDateRef.ReplaceAllStringFunc(result, func(match string) string {
		idx := atoiSub(segmentDateRef, match, 1)
		if idx >= len(segments) {
			return fail("segments[%d] out of range (%d segments)", idx, len(segments))
		}
		seg := segments[idx]
		if len(seg) == 8 && allDigits(seg) {
			return seg[:4] + "-" + seg[4:6] + "-" + seg[6:8]
		}
		return seg
	})

	result = segmentRef.ReplaceAllStringFunc(result, func(match string) string {
		idx := atoiSub(segmentRef, match, 1)
		if idx >= len(segments) {
			return fail("segments[%d] out of range (%d segments)", idx, len(segments))
		}
		return segments[idx]
	})

	result = isAllRef.ReplaceAllStringFunc(result, func(match string) string {
		idx := atoiSub(isAllRef, match, 1)
		return sqlBool(idx < len(segments) && strings.EqualFold(segments[idx], "ALL"))
	})

	result = filterRef.ReplaceAllStringFunc(result, func(match string) string {
		sub := filterRef.FindStringSubmatch(match)
		idx, _ := strconv.Atoi(sub[1])
		col := sub[2]
		if idx >= len(segments) || strings.EqualFold(segments[idx], "ALL") {
			return d.NoFilter()
		}
		return fmt.Sprintf("%s = %s", col, quote(segments[idx]))
	})

	versionDate := d.CurrentDate()
	version := ""
	if m.Version != nil {
		version = *m.Version
		if m.IsLatest() {
			versionDate = d.LatestHint()
		} else {
			versionDate = d.DateLiteral(version)
		}
	}

	revision := ""
	if m.Revision != nil {
		revision = strconv.Itoa(*m.Revision)
	}
	namespace := ""
	if m.Namespace != nil {
		namespace = *m.Namespace
	}

	simple := [][2]string{
		{"{path}", m.SegmentPath()},
		{"{version}", version},
		{"{version_date}", versionDate},
		{"{current_date}", d.CurrentDate()},
		{"{revision}", revision},
		{"{namespace}", namespace},
		{"{moniker}", m.String()},
		{"{is_latest}", sqlBool(m.IsLatest())},
	}
	for _, kv := range simple {
		result = strings.ReplaceAll(result, kv[0], kv[1])
	}

	if expandErr != nil {
		return "", expandErr
	}
	if left := leftoverRef.FindString(result); left != "" {
		return "", fmt.Errorf("%w: unknown placeholder %s", ErrTemplateMissing, left)
	}
	return result, nil
}

// quote single-quotes a value for SQL, doubling embedded quotes.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// sqlBool renders a boolean as a quoted SQL string literal.
func sqlBool(b bool) string {
	if b {
		return "'true'"
	}
	return "'false'"
}

func atoiSub(re *regexp.Regexp, match string, group int) int {
	sub := re.FindStringSubmatch(match)
	n, _ := strconv.Atoi(sub[group])
	return n
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
