package ratelimit

// IdentityKind distinguishes how a request was identified.
type IdentityKind int

const (
	// IdentityAbsent means no identity was resolved.
	IdentityAbsent IdentityKind = iota
	IdentityAnonymous
	IdentityAuthenticated
)

// Identity is the resolved caller of a request. The zero value is absent.
type Identity struct {
	kind  IdentityKind
	value string
}

// Anonymous identifies an unauthenticated caller by source address.
func Anonymous(addr string) Identity {
	return Identity{kind: IdentityAnonymous, value: addr}
}

// Authenticated identifies a caller by a stable account id.
func Authenticated(id string) Identity {
	if id == "" {
		return Identity{}
	}
	return Identity{kind: IdentityAuthenticated, value: id}
}

// Kind returns the identity kind.
func (i Identity) Kind() IdentityKind { return i.kind }

// Value returns the account id or source address.
func (i Identity) Value() string { return i.value }

// IsAuthenticated reports whether the identity carries an account id.
func (i Identity) IsAuthenticated() bool { return i.kind == IdentityAuthenticated }
