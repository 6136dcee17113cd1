package domains

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDomains = `
prices:
  display_name: Market Prices
  short_code: PRC
  owner: head-of-market-data
  help_channel: "#market-data"
  data_category: Market Data

reference:
  display_name: Reference Data
  business_steward: ref-data-stewards
  pii: false
`

func TestLoadDomains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDomains), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	d, ok := r.Get("prices")
	require.True(t, ok)
	assert.Equal(t, "Market Prices", d.DisplayName)
	assert.Equal(t, "internal", d.Confidentiality) // default

	all := r.All()
	assert.Equal(t, "prices", all[0].Name)
	assert.Equal(t, "reference", all[1].Name)
}

func TestForPath(t *testing.T) {
	r := NewRegistry()
	r.Register(&Domain{Name: "prices", Owner: "md-lead"})

	d, ok := r.ForPath("prices.equity/AAPL")
	require.True(t, ok)
	assert.Equal(t, "prices", d.Name)

	d, ok = r.ForPath("prices/spot")
	require.True(t, ok)
	assert.Equal(t, "prices", d.Name)

	_, ok = r.ForPath("rates.sofr")
	assert.False(t, ok)
}
