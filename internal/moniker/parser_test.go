package moniker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestParseBasic(t *testing.T) {
	m, err := Parse("prices.equity/AAPL@20260115")
	require.NoError(t, err)
	assert.Nil(t, m.Namespace)
	assert.Equal(t, "prices.equity", m.Domain)
	assert.Equal(t, []string{"AAPL"}, m.Segments)
	require.NotNil(t, m.Version)
	assert.Equal(t, "20260115", *m.Version)
	assert.Nil(t, m.Revision)
	assert.Equal(t, "prices.equity/AAPL", m.LookupKey())
}

func TestParseFull(t *testing.T) {
	m, err := Parse("verified@reference.security/ISIN/US0378331005@latest/v3?format=json&limit=10")
	require.NoError(t, err)
	require.NotNil(t, m.Namespace)
	assert.Equal(t, "verified", *m.Namespace)
	assert.Equal(t, "reference.security", m.Domain)
	assert.Equal(t, []string{"ISIN", "US0378331005"}, m.Segments)
	assert.Equal(t, "latest", *m.Version)
	assert.Equal(t, 3, *m.Revision)
	assert.Equal(t, map[string]string{"format": "json", "limit": "10"}, m.Params)
}

func TestParseDomainOnly(t *testing.T) {
	m, err := Parse("rates.sofr")
	require.NoError(t, err)
	assert.Equal(t, "rates.sofr", m.Domain)
	assert.Empty(t, m.Segments)
	assert.Equal(t, "rates.sofr", m.LookupKey())
}

func TestParseNamespaceWithoutVersion(t *testing.T) {
	// A single @ before any slash with a non-version tail is a namespace.
	m, err := Parse("user@analytics.risk")
	require.NoError(t, err)
	require.NotNil(t, m.Namespace)
	assert.Equal(t, "user", *m.Namespace)
	assert.Equal(t, "analytics.risk", m.Domain)
	assert.Nil(t, m.Version)
}

func TestParseNamespaceAndVersionNoSegments(t *testing.T) {
	m, err := Parse("user@analytics.risk@latest")
	require.NoError(t, err)
	assert.Equal(t, "user", *m.Namespace)
	assert.Equal(t, "analytics.risk", m.Domain)
	assert.Equal(t, "latest", *m.Version)
}

func TestParseSchemeTolerated(t *testing.T) {
	m, err := Parse("moniker://prices.equity/AAPL@latest")
	require.NoError(t, err)
	assert.Equal(t, "prices.equity", m.Domain)
	assert.True(t, m.IsLatest())

	_, err = Parse("https://prices.equity/AAPL")
	assert.ErrorIs(t, err, ErrInvalidMoniker)
}

func TestParseSlashTolerance(t *testing.T) {
	m, err := Parse("/prices.equity/AAPL/")
	require.NoError(t, err)
	assert.Equal(t, "prices.equity/AAPL", m.LookupKey())
}

func TestParseAllSegment(t *testing.T) {
	m, err := Parse("prices.equity/ALL@latest")
	require.NoError(t, err)
	assert.Equal(t, []string{"ALL"}, m.Segments)
	assert.True(t, m.IsLatest())
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		in     string
		reason string
	}{
		{"", ReasonBadDomain},
		{"Prices.equity/AAPL", ReasonBadDomain},
		{"prices..equity/AAPL", ReasonBadDomain},
		{"9prices/AAPL", ReasonBadDomain},
		{"prices.equity//AAPL", ReasonBadSegment},
		{"prices.equity/AA PL", ReasonBadSegment},
		{"prices.equity/AAPL@2026", ReasonBadVersion},
		{"prices.equity/AAPL@20261345", ReasonBadVersion},
		{"prices.equity/AAPL@newest", ReasonBadVersion},
		{"prices.equity/AAPL/v0", ReasonBadRevision},
		{"prices.equity/AAPL?=x", ReasonBadParams},
	}
	for _, tc := range cases {
		_, err := Parse(tc.in)
		require.Error(t, err, "input %q", tc.in)
		assert.ErrorIs(t, err, ErrInvalidMoniker, "input %q", tc.in)
		var pe *ParseError
		require.True(t, errors.As(err, &pe), "input %q", tc.in)
		assert.Equal(t, tc.reason, pe.Reason, "input %q", tc.in)
	}
}

func TestParseVersionMustBeCalendarDate(t *testing.T) {
	_, err := Parse("prices.equity/AAPL@20260230")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ReasonBadVersion, pe.Reason)

	_, err = Parse("prices.equity/AAPL@20240229")
	assert.NoError(t, err) // leap day
}

func TestCanonicalRoundTrip(t *testing.T) {
	inputs := []string{
		"prices.equity/AAPL@20260115",
		"prices.equity/ALL@latest",
		"verified@reference.security/ISIN/US0378331005@latest",
		"user@analytics.risk/views/my-watchlist@20260115/v3",
		"rates.libor/usd",
		"holdings/20260115/fund_alpha?format=json",
		"moniker://prices.equity/AAPL@latest/v2?b=2&a=1",
		"/indices.sovereign/developed/EUR/ALL/",
	}
	for _, in := range inputs {
		m, err := Parse(in)
		require.NoError(t, err, "input %q", in)
		canon := m.String()
		m2, err := Parse(canon)
		require.NoError(t, err, "canonical %q of %q", canon, in)
		assert.Equal(t, canon, m2.String(), "round trip of %q", in)
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize("/prices.equity/AAPL@20260115/")
	require.NoError(t, err)
	assert.Equal(t, "prices.equity/AAPL@20260115", got)

	got, err = Normalize("prices.equity/AAPL?z=1&a=2")
	require.NoError(t, err)
	assert.Equal(t, "prices.equity/AAPL?a=2&z=1", got)
}

func TestMonikerHelpers(t *testing.T) {
	m, err := Parse("prices.equity/AAPL/US@20260115")
	require.NoError(t, err)
	assert.Equal(t, "AAPL/US", m.SegmentPath())
	assert.False(t, m.IsLatest())
	require.NotNil(t, m.VersionDate())
	assert.Equal(t, "20260115", *m.VersionDate())
	assert.True(t, m.HasSegment(1))
	assert.False(t, m.HasSegment(2))
}
