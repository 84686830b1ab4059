package dig

// Match records one needle hit: the logical position of its first byte
// and the matched length.  Regexp needles report the engine's match
// length; literals report the pattern length.
type Match struct {
	Pos int64
	Len int
}

// Offsets accumulates the discovered header and footer matches for one
// rule.  Both lists stay sorted by position and hold each position at
// most once, which the pairing pass relies on.
type Offsets struct {
	Headers []Match
	Footers []Match
}

// AddHeader records a header match.
func (o *Offsets) AddHeader(m Match) { o.Headers = insertMatch(o.Headers, m) }

// AddFooter records a footer match.
func (o *Offsets) AddFooter(m Match) { o.Footers = insertMatch(o.Footers, m) }

// insertMatch inserts m keeping list sorted by position.  A match at an
// already-recorded position is dropped: the window overlap re-read makes
// boundary matches visible to two consecutive windows, and they must be
// recorded exactly once.  Matches arrive in near-sorted order, so the
// insertion point is almost always the tail.
func insertMatch(list []Match, m Match) []Match {
	i := len(list)
	for i > 0 && list[i-1].Pos > m.Pos {
		i--
	}
	if i > 0 && list[i-1].Pos == m.Pos {
		return list
	}
	list = append(list, Match{})
	copy(list[i+1:], list[i:])
	list[i] = m
	return list
}

// Store holds the per-rule offset databases produced by one dig pass.
// Each rule's Offsets is written by exactly one search worker.
type Store struct {
	perRule []Offsets
}

// NewStore returns a store for n rules.
func NewStore(n int) *Store { return &Store{perRule: make([]Offsets, n)} }

// NumRules returns the number of per-rule databases.
func (s *Store) NumRules() int { return len(s.perRule) }

// Rule returns the offsets for rule i.
func (s *Store) Rule(i int) *Offsets { return &s.perRule[i] }
