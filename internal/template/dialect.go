package template

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Dialect renders the SQL fragments that differ between backends.
type Dialect interface {
	// Name is the registry key, e.g. "snowflake".
	Name() string
	// CurrentDate is the expression for today's date.
	CurrentDate() string
	// DateLiteral renders a YYYYMMDD string as a date literal.
	DateLiteral(yyyymmdd string) string
	// LatestHint is the marker substituted when the caller asked for the
	// latest version and the backend resolves it.
	LatestHint() string
	// NoFilter is the always-true predicate used when a filter collapses.
	NoFilter() string
}

type snowflakeDialect struct{}

func (snowflakeDialect) Name() string        { return "snowflake" }
func (snowflakeDialect) CurrentDate() string { return "CURRENT_DATE()" }
func (snowflakeDialect) DateLiteral(d string) string {
	return fmt.Sprintf("TO_DATE('%s','YYYYMMDD')", d)
}
func (snowflakeDialect) LatestHint() string { return "'__LATEST__'" }
func (snowflakeDialect) NoFilter() string   { return "1=1" }

type oracleDialect struct{}

func (oracleDialect) Name() string        { return "oracle" }
func (oracleDialect) CurrentDate() string { return "TRUNC(SYSDATE)" }
func (oracleDialect) DateLiteral(d string) string {
	return fmt.Sprintf("TO_DATE('%s','YYYYMMDD')", d)
}
func (oracleDialect) LatestHint() string { return "'__LATEST__'" }
func (oracleDialect) NoFilter() string   { return "1=1" }

type mssqlDialect struct{}

func (mssqlDialect) Name() string        { return "mssql" }
func (mssqlDialect) CurrentDate() string { return "CAST(GETDATE() AS DATE)" }
func (mssqlDialect) DateLiteral(d string) string {
	return fmt.Sprintf("CONVERT(DATE, '%s', 112)", d)
}
func (mssqlDialect) LatestHint() string { return "'__LATEST__'" }
func (mssqlDialect) NoFilter() string   { return "1=1" }

var (
	dialectMu sync.RWMutex
	dialects  = map[string]Dialect{
		"snowflake": snowflakeDialect{},
		"oracle":    oracleDialect{},
		"mssql":     mssqlDialect{},
	}
)

// RegisterDialect adds or replaces a dialect by name.
func RegisterDialect(d Dialect) {
	dialectMu.Lock()
	defer dialectMu.Unlock()
	dialects[strings.ToLower(d.Name())] = d
}

// DialectFor returns the dialect for a source type name, falling back to
// snowflake for backends with no SQL dialect of their own.
func DialectFor(name string) Dialect {
	dialectMu.RLock()
	defer dialectMu.RUnlock()
	if d, ok := dialects[strings.ToLower(name)]; ok {
		return d
	}
	return dialects["snowflake"]
}

// DialectNames returns the registered dialect names, sorted.
func DialectNames() []string {
	dialectMu.RLock()
	defer dialectMu.RUnlock()
	names := make([]string, 0, len(dialects))
	for n := range dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
