package persist

// ParameterMode is the direction of a stored procedure parameter.
type ParameterMode uint8

const (
	ParamIn ParameterMode = iota + 1
	ParamInOut
	ParamOut
	// ParamRefCursor marks a parameter that yields a result set.
	ParamRefCursor
)

var parameterModeNames = []string{"", "IN", "INOUT", "OUT", "REF_CURSOR"}

// ParameterModes returns all parameter modes in declaration order.
func ParameterModes() []ParameterMode {
	return []ParameterMode{ParamIn, ParamInOut, ParamOut, ParamRefCursor}
}

// ParseParameterMode parses the name of a parameter mode, ignoring case.
func ParseParameterMode(s string) (ParameterMode, error) {
	v, err := parseEnum("parameter mode", s, parameterModeNames)
	return ParameterMode(v), err
}

// String returns the canonical name of the parameter mode.
func (m ParameterMode) String() string {
	return enumString("ParameterMode", parameterModeNames, uint8(m))
}

// IsValid reports whether m is one of the declared parameter modes.
func (m ParameterMode) IsValid() bool {
	return m >= ParamIn && m <= ParamRefCursor
}

// IsInput reports whether the caller supplies a value for the parameter.
func (m ParameterMode) IsInput() bool {
	return m == ParamIn || m == ParamInOut
}

// IsOutput reports whether the procedure writes a value back.
func (m ParameterMode) IsOutput() bool {
	return m == ParamInOut || m == ParamOut
}

// MarshalText implements encoding.TextMarshaler.
func (m ParameterMode) MarshalText() ([]byte, error) {
	return marshalEnum("parameter mode", parameterModeNames, uint8(m))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ParameterMode) UnmarshalText(text []byte) error {
	v, err := ParseParameterMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
