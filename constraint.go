package persist

// ConstraintMode controls whether a foreign key constraint is emitted for
// a relationship when the schema is generated.
type ConstraintMode uint8

const (
	// Constraint always emits the foreign key constraint.
	Constraint ConstraintMode = iota + 1
	// NoConstraint never emits it. The join column is still created.
	NoConstraint
	// ProviderDefault defers to the persistence unit default.
	ProviderDefault
)

var constraintModeNames = []string{"", "CONSTRAINT", "NO_CONSTRAINT", "PROVIDER_DEFAULT"}

// ConstraintModes returns all constraint modes in declaration order.
func ConstraintModes() []ConstraintMode {
	return []ConstraintMode{Constraint, NoConstraint, ProviderDefault}
}

// ParseConstraintMode parses the name of a constraint mode, ignoring case.
func ParseConstraintMode(s string) (ConstraintMode, error) {
	v, err := parseEnum("constraint mode", s, constraintModeNames)
	return ConstraintMode(v), err
}

// String returns the canonical name of the constraint mode.
func (m ConstraintMode) String() string {
	return enumString("ConstraintMode", constraintModeNames, uint8(m))
}

// IsValid reports whether m is one of the declared constraint modes.
func (m ConstraintMode) IsValid() bool {
	return m >= Constraint && m <= ProviderDefault
}

// Resolve returns the mode to apply given the unit default. An unspecified
// or PROVIDER_DEFAULT mode takes the default, and a default that is itself
// PROVIDER_DEFAULT or unspecified resolves to CONSTRAINT.
func (m ConstraintMode) Resolve(def ConstraintMode) ConstraintMode {
	if m == Constraint || m == NoConstraint {
		return m
	}
	if def == Constraint || def == NoConstraint {
		return def
	}
	return Constraint
}

// MarshalText implements encoding.TextMarshaler.
func (m ConstraintMode) MarshalText() ([]byte, error) {
	return marshalEnum("constraint mode", constraintModeNames, uint8(m))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ConstraintMode) UnmarshalText(text []byte) error {
	v, err := ParseConstraintMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
