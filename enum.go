package persist

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// enumString returns names[v], or a Go-syntax fallback for values
// outside the declared set. names[0] is the unspecified value.
func enumString(kind string, names []string, v uint8) string {
	if v > 0 && int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%s(%d)", kind, v)
}

// parseEnum matches s against names ignoring case. Dashes and spaces are
// accepted in place of underscores, so "no-constraint" parses as
// NO_CONSTRAINT.
func parseEnum(kind, s string, names []string) (uint8, error) {
	// Casers are stateful and must not be shared between goroutines.
	fold := cases.Fold()
	want := fold.String(normalizeEnum(s))
	for i := 1; i < len(names); i++ {
		if fold.String(names[i]) == want {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("persist: invalid %s %q", kind, s)
}

func normalizeEnum(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// marshalEnum implements encoding.TextMarshaler for the enumerations.
func marshalEnum(kind string, names []string, v uint8) ([]byte, error) {
	if v == 0 || int(v) >= len(names) {
		return nil, fmt.Errorf("persist: cannot marshal invalid %s %d", kind, v)
	}
	return []byte(names[v]), nil
}
