// Package unit loads persistence unit configuration from YAML.
//
//	name: shop
//	transaction-type: RESOURCE_LOCAL
//	dialect: sqlite
//	data-source: "file:${DATA_DIR}/shop.db"
//	properties:
//	  persist.show_sql: "true"
//	named-queries:
//	  - name: User.byEmail
//	    query: "SELECT * FROM users WHERE email = ?"
package unit

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
)

// Property names understood by the provider.
const (
	// PropShowSQL logs every statement at debug level.
	PropShowSQL = "persist.show_sql"
	// PropSlowQuery is the duration above which statements are logged as
	// slow.
	PropSlowQuery = "persist.slow_query"
	// PropLockTimeout is the default lock timeout of lock operations.
	PropLockTimeout = "persist.lock.timeout"
	// PropQueryTimeout is the default timeout of queries.
	PropQueryTimeout = "persist.query.timeout"
	// PropCacheTTL is the lifetime of shared cache entries. Zero keeps
	// entries until evicted.
	PropCacheTTL = "persist.cache.ttl"
)

// NamedQuery is a query registered with the unit under a name. Portable
// and native queries are both SQL with '?' placeholders.
type NamedQuery = persist.NamedNativeQuery

// Unit is a persistence unit definition.
type Unit struct {
	Name            string                  `yaml:"name"`
	TransactionType persist.TransactionType `yaml:"transaction-type,omitempty"`
	Dialect         string                  `yaml:"dialect"`
	DataSource      string                  `yaml:"data-source"`
	// Access is the default access type of managed types.
	Access persist.AccessType `yaml:"access,omitempty"`
	// ConstraintMode is the default for relations declaring
	// PROVIDER_DEFAULT.
	ConstraintMode persist.ConstraintMode `yaml:"constraint-mode,omitempty"`
	// SharedCache enables the factory-wide entity cache.
	SharedCache        bool              `yaml:"shared-cache,omitempty"`
	Properties         map[string]string `yaml:"properties,omitempty"`
	NamedQueries       []NamedQuery      `yaml:"named-queries,omitempty"`
	NamedNativeQueries []NamedQuery      `yaml:"named-native-queries,omitempty"`
}

// Load reads and parses the unit file at path. Environment variables in
// data-source are expanded.
func Load(path string) (*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unit: %w", err)
	}
	u, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("unit: %s: %w", path, err)
	}
	u.DataSource = os.ExpandEnv(u.DataSource)
	return u, nil
}

// Parse decodes a unit, applies defaults and validates it.
func Parse(data []byte) (*Unit, error) {
	u := &Unit{}
	if err := yaml.Unmarshal(data, u); err != nil {
		return nil, err
	}
	u.applyDefaults()
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *Unit) applyDefaults() {
	if u.TransactionType == 0 {
		u.TransactionType = persist.ResourceLocal
	}
	if u.Access == 0 {
		u.Access = persist.AccessField
	}
	if u.ConstraintMode == 0 {
		u.ConstraintMode = persist.ProviderDefault
	}
	if d, err := dialect.Normalize(u.Dialect); err == nil {
		u.Dialect = d
	}
}

// Validate checks the unit and returns all problems found, joined.
func (u *Unit) Validate() error {
	var errs []error
	if u.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !u.TransactionType.IsValid() {
		errs = append(errs, fmt.Errorf("invalid transaction-type %v", u.TransactionType))
	}
	if _, err := dialect.Normalize(u.Dialect); err != nil {
		errs = append(errs, err)
	}
	if u.DataSource == "" {
		errs = append(errs, errors.New("data-source is required"))
	}
	if !u.Access.IsValid() {
		errs = append(errs, fmt.Errorf("invalid access %v", u.Access))
	}
	if !u.ConstraintMode.IsValid() {
		errs = append(errs, fmt.Errorf("invalid constraint-mode %v", u.ConstraintMode))
	}
	seen := make(map[string]bool)
	for _, q := range u.Queries() {
		switch {
		case q.Name == "":
			errs = append(errs, errors.New("named query without a name"))
		case seen[q.Name]:
			errs = append(errs, fmt.Errorf("duplicate query name %q", q.Name))
		case q.Query == "":
			errs = append(errs, fmt.Errorf("query %q has no SQL", q.Name))
		}
		seen[q.Name] = true
	}
	for _, p := range []string{PropSlowQuery, PropLockTimeout, PropQueryTimeout, PropCacheTTL} {
		if _, err := u.Duration(p); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := u.Bool(PropShowSQL); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Queries returns the named and named native queries.
func (u *Unit) Queries() []NamedQuery {
	qs := make([]NamedQuery, 0, len(u.NamedQueries)+len(u.NamedNativeQueries))
	qs = append(qs, u.NamedQueries...)
	return append(qs, u.NamedNativeQueries...)
}

// Query returns the named query.
func (u *Unit) Query(name string) (NamedQuery, bool) {
	for _, q := range u.Queries() {
		if q.Name == name {
			return q, true
		}
	}
	return NamedQuery{}, false
}

// Property returns a property value.
func (u *Unit) Property(name string) (string, bool) {
	v, ok := u.Properties[name]
	return v, ok
}

// Bool returns a boolean property. A missing property is false.
func (u *Unit) Bool(name string) (bool, error) {
	v, ok := u.Property(name)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("property %s: %w", name, err)
	}
	return b, nil
}

// Duration returns a duration property. A missing property is zero. Plain
// integers are read as milliseconds.
func (u *Unit) Duration(name string) (time.Duration, error) {
	v, ok := u.Property(name)
	if !ok || v == "" {
		return 0, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("property %s: %w", name, err)
	}
	return d, nil
}

// ParseDuration parses a duration string such as "2s", or an integer
// number of milliseconds.
func ParseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
