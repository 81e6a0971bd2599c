package domain

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// IdentifierKind distinguishes canonical ids from human lookup keys.
type IdentifierKind int

const (
	// LookupKey is a username or email that needs resolving.
	LookupKey IdentifierKind = iota
	// CanonicalID is already shaped like a user id; existence is still checked.
	CanonicalID
)

func (k IdentifierKind) String() string {
	if k == CanonicalID {
		return "canonical_id"
	}
	return "lookup_key"
}

// Identifier is a classified, trimmed user identifier.
type Identifier struct {
	Kind  IdentifierKind
	Value string
}

// Classify trims raw and decides whether it is a canonical user id: a
// 36-character RFC 4122 UUID of version 1 through 5. Canonical ids are
// normalized to lower case; lookup keys keep their exact spelling.
func Classify(raw string) Identifier {
	v := strings.TrimSpace(raw)
	if len(v) == 36 {
		if u, err := uuid.Parse(v); err == nil &&
			u.Variant() == uuid.RFC4122 &&
			u.Version() >= 1 && u.Version() <= 5 {
			return Identifier{Kind: CanonicalID, Value: u.String()}
		}
	}
	return Identifier{Kind: LookupKey, Value: v}
}

// NewID returns a fresh canonical id.
func NewID() string {
	return uuid.NewString()
}

// PairKey is the order-independent key of a two-party conversation.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}
