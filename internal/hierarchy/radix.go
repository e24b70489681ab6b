package hierarchy

import (
	"time"

	iradix "github.com/hashicorp/go-immutable-radix/v2"
)

// Payload is what Pass 1 stores for each normalized child-instruction
// prefix key: enough to evaluate the hard constraints and tie-breakers in
// Pass 2 without re-reading the full skeleton.
type Payload struct {
	ParentTaskID string
	CreatedAt    time.Time
	Workspace    string
}

// Index is the radix tree built in Pass 1. Duplicate keys keep a list of
// payloads, since more than one parent can (rarely) emit the same
// normalized instruction text.
type Index struct {
	tree *iradix.Tree[[]Payload]
}

// NewIndex builds an empty index.
func NewIndex() *Index {
	return &Index{tree: iradix.New[[]Payload]()}
}

// Insert adds one (normalizedKey -> payload) entry, appending to any
// existing payload list for that exact key.
func (idx *Index) Insert(normalizedKey string, p Payload) {
	key := []byte(normalizedKey)
	existing, ok := idx.tree.Get(key)
	if ok {
		existing = append(append([]Payload{}, existing...), p)
	} else {
		existing = []Payload{p}
	}
	idx.tree, _, _ = idx.tree.Insert(key, existing)
}

// Exact returns the payload list stored at exactly key, if any.
func (idx *Index) Exact(key string) ([]Payload, bool) {
	return idx.tree.Get([]byte(key))
}

// prefixMatch is one candidate produced by the two directions prefix
// matching can go: the query is a prefix of a stored key, or a stored key
// is a prefix of the query.
type prefixMatch struct {
	key          string
	matchedLen   int
	payloads     []Payload
}

// LongestPrefixOfQuery finds the longest stored key that is itself a
// prefix of query (direction: stored key shorter than or equal to query).
func (idx *Index) LongestPrefixOfQuery(query string) (prefixMatch, bool) {
	k, v, ok := idx.tree.Root().LongestPrefix([]byte(query))
	if !ok {
		return prefixMatch{}, false
	}
	return prefixMatch{key: string(k), matchedLen: len(k), payloads: v}, true
}

// KeysExtendingQuery finds every stored key for which query is a prefix
// (direction: query shorter than the stored key), returning the one with
// the smallest matched length beyond query (closest/shortest extension),
// since that is the most conservative confidence estimate.
func (idx *Index) KeysExtendingQuery(query string) (prefixMatch, bool) {
	var best prefixMatch
	found := false
	idx.tree.Root().WalkPrefix([]byte(query), func(k []byte, v []Payload) bool {
		if !found || len(k) < len(best.key) {
			best = prefixMatch{key: string(k), matchedLen: len(query), payloads: v}
			found = true
		}
		return false
	})
	return best, found
}
