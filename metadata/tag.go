package metadata

import (
	"fmt"
	"strings"

	"github.com/syssam/persist"
)

// TagName is the struct tag key read by the mapper.
const TagName = "persist"

// Generation is the id generation strategy of an attribute.
type Generation uint8

const (
	// GenerateNone leaves id assignment to the application.
	GenerateNone Generation = iota
	// GenerateIdentity lets the database assign the id on insert.
	GenerateIdentity
	// GenerateUUID assigns a random UUID before insert.
	GenerateUUID
)

func (g Generation) String() string {
	switch g {
	case GenerateIdentity:
		return "identity"
	case GenerateUUID:
		return "uuid"
	default:
		return "none"
	}
}

// tag is a parsed `persist:"..."` struct tag:
//
//	persist:"-"                              transient
//	persist:"email_address"                  column name
//	persist:",id,generated=identity"         id attribute
//	persist:",version"                       version attribute
//	persist:"team_id,ref,constraint=none"    relation join column
//	persist:",access=property"               per-attribute access
type tag struct {
	skip       bool
	column     string
	id         bool
	version    bool
	transient  bool
	ref        bool
	nullable   bool
	unique     bool
	generated  Generation
	genSet     bool
	constraint persist.ConstraintMode
	access     persist.AccessType
}

func parseTag(s string) (tag, error) {
	var t tag
	if s == "-" {
		t.skip = true
		return t, nil
	}
	parts := strings.Split(s, ",")
	t.column = strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(p), "=")
		switch key {
		case "":
		case "id":
			t.id = true
		case "version":
			t.version = true
		case "transient":
			t.transient = true
		case "ref":
			t.ref = true
		case "nullable":
			t.nullable = true
		case "unique":
			t.unique = true
		case "generated":
			t.genSet = true
			switch strings.ToLower(value) {
			case "none":
				t.generated = GenerateNone
			case "identity", "auto", "":
				t.generated = GenerateIdentity
			case "uuid":
				t.generated = GenerateUUID
			default:
				return t, fmt.Errorf("unknown generation strategy %q", value)
			}
		case "constraint":
			// "none" is accepted as a shorthand for NO_CONSTRAINT.
			if strings.EqualFold(value, "none") {
				value = "NO_CONSTRAINT"
			}
			m, err := persist.ParseConstraintMode(value)
			if err != nil {
				return t, err
			}
			t.constraint = m
		case "access":
			a, err := persist.ParseAccessType(value)
			if err != nil {
				return t, err
			}
			t.access = a
		default:
			return t, fmt.Errorf("unknown tag option %q", key)
		}
	}
	return t, nil
}
