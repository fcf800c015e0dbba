package patch

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

const likeEscape = '!'

// Contains narrows query to rows whose column contains term, ignoring case.
// Both sides are folded by the engine's LOWER() so the column and the term share one rule.
// LIKE wildcards in term match literally. An empty term leaves the query unchanged.
func Contains(query *gorm.DB, column, term string) *gorm.DB {
	if term == "" {
		return query
	}
	return query.Where(fmt.Sprintf("LOWER(%s) LIKE LOWER(?) ESCAPE '%c'", column, likeEscape), "%"+EscapeLike(term)+"%")
}

// EqualFold narrows query to rows whose column equals term under the engine's LOWER().
func EqualFold(query *gorm.DB, column, term string) *gorm.DB {
	return query.Where(fmt.Sprintf("LOWER(%s) = LOWER(?)", column), term)
}

// EscapeLike escapes LIKE metacharacters using '!' as the escape character.
func EscapeLike(term string) string {
	var builder strings.Builder
	builder.Grow(len(term))
	for _, r := range term {
		if r == '%' || r == '_' || r == likeEscape {
			builder.WriteRune(likeEscape)
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
