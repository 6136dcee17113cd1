package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleModels = `
DV01:
  display_name: Dollar Value of a Basis Point
  unit: USD
  ownership:
    methodology_owner: rates-quant-team
  moniker_links:
    - moniker_pattern: "risk.rates/**/DV01"
      column_name: dv01

Alpha:
  display_name: Portfolio Alpha
  moniker_links:
    - moniker_pattern: "analytics.performance/*/alpha"
`

func TestLoadModels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleModels), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	m, ok := r.Get("DV01")
	require.True(t, ok)
	assert.Equal(t, "USD", m.Unit)
	require.NotNil(t, m.Ownership)
	assert.Equal(t, "rates-quant-team", *m.Ownership.MethodologyOwner)
}

func TestForPathGlobs(t *testing.T) {
	r := NewRegistry()
	r.Register(&Model{Name: "DV01", Links: []MonikerLink{{MonikerPattern: "risk.rates/**/DV01"}}})
	r.Register(&Model{Name: "Alpha", Links: []MonikerLink{{MonikerPattern: "analytics.performance/*/alpha"}}})

	got := r.ForPath("risk.rates/swaps/usd/DV01")
	require.Len(t, got, 1)
	assert.Equal(t, "DV01", got[0].Name)

	// ** spans zero segments too.
	got = r.ForPath("risk.rates/DV01")
	require.Len(t, got, 1)

	got = r.ForPath("analytics.performance/fund_a/alpha")
	require.Len(t, got, 1)
	assert.Equal(t, "Alpha", got[0].Name)

	// * spans exactly one segment.
	assert.Empty(t, r.ForPath("analytics.performance/fund_a/sub/alpha"))
	assert.Empty(t, r.ForPath("prices.equity/AAPL"))
}
