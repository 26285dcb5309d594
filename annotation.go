package persist

import (
	"maps"
	"reflect"
	"slices"
)

type (
	// Annotation is mapping metadata attached to a managed type.
	Annotation interface {
		// Name identifies the annotation kind.
		Name() string
	}

	// Merger is implemented by annotations that can be combined with
	// another annotation of the same kind.
	Merger interface {
		Merge(Annotation) Annotation
	}

	// Annotated is implemented by managed types that declare annotations.
	// The method is called on the zero value of the type.
	Annotated interface {
		Annotations() []Annotation
	}
)

// AnnotationName is the name of EntityAnnotation.
const AnnotationName = "Persist"

// EntityAnnotation holds the mapping settings of a managed type. Struct
// tags cover the same ground per attribute; the annotation wins when both
// are set.
//
//	func (User) Annotations() []persist.Annotation {
//	    return []persist.Annotation{
//	        persist.Table("app_users"),
//	        persist.Transient("Scratch"),
//	        persist.ForeignKey("Team", persist.NoConstraint),
//	    }
//	}
type EntityAnnotation struct {
	// Table overrides the table name.
	Table string
	// Access sets the default AccessType of the type's attributes.
	Access AccessType
	// Transient lists attributes excluded from persistent state.
	Transient []string
	// ForeignKeys sets the ConstraintMode of relation attributes.
	ForeignKeys map[string]ConstraintMode
	// NamedNativeQueries declares native queries scoped to the unit.
	NamedNativeQueries []NamedNativeQuery
}

// NamedNativeQuery declares a native SQL query that can be looked up by
// name. Positional parameters are written as '?' for every dialect.
type NamedNativeQuery struct {
	Name  string         `yaml:"name"`
	Query string         `yaml:"query"`
	Hints map[string]any `yaml:"hints,omitempty"`
	// ResultType is the managed type the rows map to. It is informational:
	// the type parameter of the query reference decides the mapping.
	ResultType reflect.Type `yaml:"-"`
}

// Name implements Annotation.
func (EntityAnnotation) Name() string { return AnnotationName }

// Merge implements Merger. Scalar settings of other win when set, lists
// are concatenated and maps are merged.
func (a EntityAnnotation) Merge(other Annotation) Annotation {
	var ant EntityAnnotation
	switch other := other.(type) {
	case EntityAnnotation:
		ant = other
	case *EntityAnnotation:
		if other != nil {
			ant = *other
		}
	default:
		return a
	}
	if ant.Table != "" {
		a.Table = ant.Table
	}
	if ant.Access != 0 {
		a.Access = ant.Access
	}
	a.Transient = append(slices.Clone(a.Transient), ant.Transient...)
	if len(ant.ForeignKeys) > 0 {
		fks := maps.Clone(a.ForeignKeys)
		if fks == nil {
			fks = make(map[string]ConstraintMode, len(ant.ForeignKeys))
		}
		maps.Copy(fks, ant.ForeignKeys)
		a.ForeignKeys = fks
	}
	a.NamedNativeQueries = append(slices.Clone(a.NamedNativeQueries), ant.NamedNativeQueries...)
	return a
}

// IsTransient reports whether the attribute is listed as transient.
func (a EntityAnnotation) IsTransient(attr string) bool {
	return slices.Contains(a.Transient, attr)
}

// Table returns an annotation overriding the table name.
func Table(name string) *EntityAnnotation {
	return &EntityAnnotation{Table: name}
}

// Access returns an annotation setting the default access type.
func Access(t AccessType) *EntityAnnotation {
	return &EntityAnnotation{Access: t}
}

// Transient returns an annotation excluding the named attributes from
// persistent state. The struct tag `persist:"-"` does the same per field.
func Transient(attrs ...string) *EntityAnnotation {
	return &EntityAnnotation{Transient: attrs}
}

// ForeignKey returns an annotation setting the constraint mode of a
// relation attribute.
func ForeignKey(attr string, mode ConstraintMode) *EntityAnnotation {
	return &EntityAnnotation{ForeignKeys: map[string]ConstraintMode{attr: mode}}
}

// NamedNativeQueries returns an annotation declaring native queries.
func NamedNativeQueries(queries ...NamedNativeQuery) *EntityAnnotation {
	return &EntityAnnotation{NamedNativeQueries: queries}
}

// MergeAnnotations folds the persist annotations in anns into one.
// Annotations of other kinds are skipped.
func MergeAnnotations(anns ...Annotation) EntityAnnotation {
	var merged EntityAnnotation
	for _, ant := range anns {
		if ant == nil || ant.Name() != AnnotationName {
			continue
		}
		merged = merged.Merge(ant).(EntityAnnotation)
	}
	return merged
}

var (
	_ Annotation = (*EntityAnnotation)(nil)
	_ Merger     = (*EntityAnnotation)(nil)
)
