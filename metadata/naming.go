package metadata

import (
	"unicode"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TableName returns the default table name of a Go type name:
// "OrderItem" maps to "order_items".
func TableName(typeName string) string {
	return inflect.Underscore(inflect.Pluralize(foldAcronyms(typeName)))
}

// ColumnName returns the default column name of a Go field name:
// "CreatedAt" maps to "created_at" and "TeamID" to "team_id".
func ColumnName(fieldName string) string {
	return inflect.Underscore(foldAcronyms(fieldName))
}

// foldAcronyms rewrites runs of capitals as one word ("TeamID" becomes
// "TeamId", "HTTPServer" becomes "HttpServer") so the case-change split
// done by inflect yields whole words.
func foldAcronyms(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs))
	for i := 0; i < len(rs); {
		if !unicode.IsUpper(rs[i]) {
			out = append(out, rs[i])
			i++
			continue
		}
		j := i
		for j < len(rs) && unicode.IsUpper(rs[j]) {
			j++
		}
		// The last capital of a run followed by a lower-case letter starts
		// the next word.
		end := j
		if j < len(rs) && unicode.IsLower(rs[j]) && j-i > 1 {
			end = j - 1
		}
		out = append(out, rs[i])
		for k := i + 1; k < end; k++ {
			out = append(out, unicode.ToLower(rs[k]))
		}
		i = end
	}
	return string(out)
}

// exportName returns the accessor stem of a field name: "name" becomes
// "Name" and "userID" becomes "UserID".
func exportName(field string) string {
	return cases.Title(language.Und, cases.NoLower).String(field)
}
