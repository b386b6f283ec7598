package domain

// SubjectType differentiates customer vs staff tokens.
type SubjectType string

const (
	SubjectTypeUser  SubjectType = "USER"
	SubjectTypeStaff SubjectType = "STAFF"
)

// Identity is the authenticated actor behind a connection or request.
// It is supplied by the auth layer; the engine never mutates it.
type Identity struct {
	ID      string
	IsStaff bool
}

// Subject maps the identity to its token subject type.
func (i Identity) Subject() SubjectType {
	if i.IsStaff {
		return SubjectTypeStaff
	}
	return SubjectTypeUser
}
