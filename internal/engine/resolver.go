package engine

import (
	"strings"

	"github.com/roach88/timebridge/internal/model"
)

// MetadataPrefix namespaces field names that address the metadata bag.
const MetadataPrefix = "metadata."

// ResolveField returns the value of the named field on e, or ok=false when
// the field is unknown or carries no value.
//
// Standard names (case-insensitive):
//   - useremail, user, useridentifier
//   - projectkey
//   - issuekey
//   - description
//   - activity
//
// "metadata.<key>" tries an exact key match first, then a case-insensitive
// scan. A JSON null in the bag is "no value"; any other non-string JSON
// value resolves to its raw JSON text.
func ResolveField(name string, e *model.Entry) (value string, ok bool) {
	if e == nil {
		return "", false
	}

	if len(name) > len(MetadataPrefix) && strings.EqualFold(name[:len(MetadataPrefix)], MetadataPrefix) {
		key := name[len(MetadataPrefix):]
		v, found := e.Metadata.Lookup(key)
		if !found {
			return "", false
		}
		return v.Text()
	}

	switch strings.ToLower(name) {
	case "useremail", "user", "useridentifier":
		return e.UserIdentifier, true
	case "projectkey":
		return optional(e.ProjectKey)
	case "issuekey":
		return optional(e.IssueKey)
	case "description":
		return e.Description, true
	case "activity":
		return optional(e.Activity)
	default:
		return "", false
	}
}

func optional(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	return *p, true
}

// KnownFields lists the standard field names accepted by ResolveField,
// excluding the metadata namespace.
var KnownFields = []string{"useremail", "projectkey", "issuekey", "description", "activity"}

// IsKnownField reports whether name is a standard field or a metadata path.
func IsKnownField(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, MetadataPrefix) {
		return len(lower) > len(MetadataPrefix)
	}
	switch lower {
	case "useremail", "user", "useridentifier", "projectkey", "issuekey", "description", "activity":
		return true
	}
	return false
}
