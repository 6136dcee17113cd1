package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
prices:
  display_name: Market Prices
  ownership:
    accountable_owner: market-data-team
    support_channel: "#market-data"

prices.equity:
  display_name: Equity Prices
  description: End-of-day equity prices
  tags: [market-data, eod]
  source_binding:
    type: snowflake
    config:
      account: acme
      database: MARKET
      query: "SELECT * FROM eq_prices WHERE {filter[0]:ticker} AND price_date = {version_date}"
    allowed_operations: [read]
  access_policy:
    required_segments: [0]
    max_rows_block: 50000

prices.equity/AAPL:
  display_name: Apple Inc.
  is_leaf: true

rates.libor:
  display_name: LIBOR (retired)
  status: deprecated
  deprecation_message: "LIBOR ceased publication"
  successor: rates.sofr

rates.sofr:
  display_name: SOFR
`

func writeTempCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	nodes, err := LoadCatalog(writeTempCatalog(t, sampleCatalog))
	require.NoError(t, err)
	require.Len(t, nodes, 5)

	eq := nodes["prices.equity"]
	require.NotNil(t, eq)
	assert.Equal(t, NodeStatusActive, eq.Status)
	require.NotNil(t, eq.SourceBinding)
	assert.Equal(t, SourceTypeSnowflake, eq.SourceBinding.SourceType)
	assert.True(t, eq.SourceBinding.ReadOnly) // defaults on
	require.NotNil(t, eq.AccessPolicy)
	assert.Equal(t, []int{0}, eq.AccessPolicy.RequiredSegments)
	assert.Equal(t, 100, eq.AccessPolicy.BaseRowCount)

	libor := nodes["rates.libor"]
	assert.Equal(t, NodeStatusDeprecated, libor.Status)
	assert.Equal(t, "rates.sofr", *libor.Successor)

	leaf := nodes["prices.equity/AAPL"]
	assert.True(t, leaf.IsLeaf)
	assert.Nil(t, leaf.SourceBinding)
}

func TestLoadCatalogRejectsBadStatus(t *testing.T) {
	_, err := ParseCatalog([]byte("a:\n  status: retired\n"))
	assert.Error(t, err)
}

func TestLoadCatalogRejectsBadPath(t *testing.T) {
	_, err := ParseCatalog([]byte("Bad.Domain:\n  display_name: x\n"))
	assert.Error(t, err)
}

func TestLoadCatalogRejectsBindingWithoutType(t *testing.T) {
	_, err := ParseCatalog([]byte("a:\n  source_binding:\n    config: {x: 1}\n"))
	assert.Error(t, err)
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := LoadCatalog("/nonexistent/catalog.yaml")
	assert.Error(t, err)
}

func TestLoadCatalogAndValidateSuccessors(t *testing.T) {
	nodes, err := LoadCatalog(writeTempCatalog(t, sampleCatalog))
	require.NoError(t, err)
	assert.Empty(t, ValidateSuccessors(nodes))
}
