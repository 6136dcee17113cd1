package moniker

import (
	"fmt"
	"sort"
	"strings"
)

// Moniker is the parsed form of a moniker string.
//
// Grammar:
//
//	moniker   := [namespace "@"] domain [ "/" segments ] [ "@" version ] [ "/v" revision ] [ "?" params ]
//	namespace := identifier
//	domain    := dotted_identifier
//	segments  := segment ("/" segment)*
//	version   := "latest" | YYYYMMDD
//	revision  := positive integer
type Moniker struct {
	// Namespace is an optional scope prefix (user, verified, official, ...).
	// It round-trips through the parser but is not part of the registry key.
	Namespace *string

	// Domain is the required dotted domain, e.g. "prices.equity".
	Domain string

	// Segments are the ordered path parts after the domain.
	Segments []string

	// Version is the optional @suffix: "latest" or an 8-digit date.
	Version *string

	// Revision is the optional /vN suffix.
	Revision *int

	// Params holds query parameters parsed from ?k=v&...
	Params map[string]string
}

// LookupKey returns the registry key: domain plus slash-joined segments.
// The namespace is deliberately excluded.
func (m *Moniker) LookupKey() string {
	if len(m.Segments) == 0 {
		return m.Domain
	}
	return m.Domain + "/" + strings.Join(m.Segments, "/")
}

// SegmentPath returns the segments joined by "/", without the domain.
func (m *Moniker) SegmentPath() string {
	return strings.Join(m.Segments, "/")
}

// String renders the canonical moniker form. Parsing the result yields an
// equivalent Moniker; params are emitted in sorted key order so the canonical
// form is deterministic.
func (m *Moniker) String() string {
	var b strings.Builder
	if m.Namespace != nil {
		b.WriteString(*m.Namespace)
		b.WriteByte('@')
	}
	b.WriteString(m.Domain)
	for _, seg := range m.Segments {
		b.WriteByte('/')
		b.WriteString(seg)
	}
	if m.Version != nil {
		b.WriteByte('@')
		b.WriteString(*m.Version)
	}
	if m.Revision != nil {
		fmt.Fprintf(&b, "/v%d", *m.Revision)
	}
	if len(m.Params) > 0 {
		keys := make([]string, 0, len(m.Params))
		for k := range m.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(m.Params[k])
		}
	}
	return b.String()
}

// IsLatest reports whether the moniker explicitly requests the latest version.
func (m *Moniker) IsLatest() bool {
	return m.Version != nil && *m.Version == "latest"
}

// VersionDate returns the YYYYMMDD version string, or nil if the version is
// absent or "latest".
func (m *Moniker) VersionDate() *string {
	if m.Version == nil || *m.Version == "latest" {
		return nil
	}
	return m.Version
}

// HasSegment reports whether segment index i exists.
func (m *Moniker) HasSegment(i int) bool {
	return i >= 0 && i < len(m.Segments)
}
