package moniker

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidMoniker is the sentinel for any moniker parse failure. Use
// errors.Is against it; the concrete *ParseError carries the reason.
var ErrInvalidMoniker = errors.New("invalid moniker")

// Parse failure reasons.
const (
	ReasonBadDomain   = "bad_domain"
	ReasonBadSegment  = "bad_segment"
	ReasonBadVersion  = "bad_version"
	ReasonBadRevision = "bad_revision"
	ReasonBadParams   = "bad_params"
)

// ParseError describes why a moniker string was rejected.
type ParseError struct {
	Reason  string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid moniker (%s): %s", e.Reason, e.Message)
}

func (e *ParseError) Unwrap() error { return ErrInvalidMoniker }

func parseErr(reason, format string, args ...any) error {
	return &ParseError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

var (
	domainPattern    = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)
	segmentPattern   = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	namespacePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]*$`)
	revisionSuffix   = regexp.MustCompile(`/[vV]([0-9]+)$`)
	datePattern      = regexp.MustCompile(`^[0-9]{8}$`)
)

const maxSegmentLen = 128

// Parse parses a raw moniker string.
//
// The parser is greedy-left: it first splits off an optional ?params, then an
// optional /vN revision suffix, then an optional @version. The remainder is
// split on the first "/": the left side is [namespace@]domain, the right side
// is the segment path.
//
// Examples:
//
//	prices.equity/AAPL@20260115
//	rates.libor/usd
//	verified@reference.security/ISIN/US0378331005@latest
//	analytics.risk/views/watchlist@20260115/v3?format=json
func Parse(raw string) (*Moniker, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, parseErr(ReasonBadDomain, "empty moniker string")
	}

	// Tolerate the moniker:// scheme; reject any other.
	if strings.HasPrefix(s, "moniker://") {
		s = strings.TrimPrefix(s, "moniker://")
	} else if strings.Contains(s, "://") {
		return nil, parseErr(ReasonBadDomain, "unexpected scheme in %q", raw)
	}

	// Query params.
	params := map[string]string{}
	if idx := strings.Index(s, "?"); idx != -1 {
		queryStr := s[idx+1:]
		s = s[:idx]
		values, err := url.ParseQuery(queryStr)
		if err != nil {
			return nil, parseErr(ReasonBadParams, "cannot parse params %q: %v", queryStr, err)
		}
		for k, vs := range values {
			if k == "" {
				return nil, parseErr(ReasonBadParams, "empty param name in %q", queryStr)
			}
			if len(vs) > 0 {
				params[k] = vs[0]
			}
		}
	}

	s = strings.Trim(s, "/")

	// Revision suffix /vN.
	var revision *int
	if m := revisionSuffix.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, parseErr(ReasonBadRevision, "revision must be a positive integer, got %q", m[1])
		}
		revision = &n
		s = s[:len(s)-len(m[0])]
	}

	// Version suffix @version. A single @ before the first / may instead be a
	// namespace prefix; it is treated as a version only when the tail looks
	// like one ("latest" or all digits).
	var version *string
	if at := strings.LastIndex(s, "@"); at != -1 {
		tail := s[at+1:]
		firstSlash := strings.Index(s, "/")
		afterSlash := firstSlash != -1 && at > firstSlash
		versionShaped := tail == "latest" || onlyDigits(tail)
		if afterSlash || strings.Count(s, "@") > 1 || versionShaped {
			if err := validateVersion(tail); err != nil {
				return nil, err
			}
			v := tail
			version = &v
			s = s[:at]
		}
	}

	// Remainder: [namespace@]domain[/segments].
	var namespace *string
	head := s
	var segPart string
	if idx := strings.Index(s, "/"); idx != -1 {
		head = s[:idx]
		segPart = strings.Trim(s[idx+1:], "/")
	}
	if at := strings.Index(head, "@"); at != -1 {
		ns := head[:at]
		if !namespacePattern.MatchString(ns) {
			return nil, parseErr(ReasonBadDomain, "invalid namespace %q", ns)
		}
		namespace = &ns
		head = head[at+1:]
	}
	if !domainPattern.MatchString(head) {
		return nil, parseErr(ReasonBadDomain, "invalid domain %q", head)
	}

	var segments []string
	if segPart != "" {
		segments = strings.Split(segPart, "/")
		for _, seg := range segments {
			if seg == "" || len(seg) > maxSegmentLen || !segmentPattern.MatchString(seg) {
				return nil, parseErr(ReasonBadSegment, "invalid path segment %q", seg)
			}
		}
	}

	return &Moniker{
		Namespace: namespace,
		Domain:    head,
		Segments:  segments,
		Version:   version,
		Revision:  revision,
		Params:    params,
	}, nil
}

// Normalize parses a moniker string and renders it in canonical form.
func Normalize(raw string) (string, error) {
	m, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

func validateVersion(v string) error {
	if v == "latest" {
		return nil
	}
	if !datePattern.MatchString(v) {
		return parseErr(ReasonBadVersion, "version must be 'latest' or YYYYMMDD, got %q", v)
	}
	if _, err := time.Parse("20060102", v); err != nil {
		return parseErr(ReasonBadVersion, "%q is not a valid calendar date", v)
	}
	return nil
}

func onlyDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
