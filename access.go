package persist

// AccessType selects how the provider reads and writes the persistent
// state of a managed type. It is fixed when the type is mapped.
type AccessType uint8

const (
	// AccessField reads and writes struct fields directly.
	AccessField AccessType = iota + 1
	// AccessProperty goes through accessor methods: X() or GetX() to read,
	// SetX(v) to write.
	AccessProperty
)

var accessTypeNames = []string{"", "FIELD", "PROPERTY"}

// AccessTypes returns all access types in declaration order.
func AccessTypes() []AccessType {
	return []AccessType{AccessField, AccessProperty}
}

// ParseAccessType parses the name of an access type, ignoring case.
func ParseAccessType(s string) (AccessType, error) {
	v, err := parseEnum("access type", s, accessTypeNames)
	return AccessType(v), err
}

// String returns the canonical name of the access type.
func (a AccessType) String() string {
	return enumString("AccessType", accessTypeNames, uint8(a))
}

// IsValid reports whether a is one of the declared access types.
func (a AccessType) IsValid() bool {
	return a >= AccessField && a <= AccessProperty
}

// MarshalText implements encoding.TextMarshaler.
func (a AccessType) MarshalText() ([]byte, error) {
	return marshalEnum("access type", accessTypeNames, uint8(a))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AccessType) UnmarshalText(text []byte) error {
	v, err := ParseAccessType(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
