package crdt

import "crypto/rand"

// Identifier is one fractional-position digit in a character's CRDT
// position path. A path of identifiers orders characters lexicographically
// by (Digit, Node) pairs, then by path length.
type Identifier struct {
	Digit int `json:"digit"`
	Node  int `json:"node"`
}

// NewSiteID returns a random positive site identifier, unique with
// overwhelming probability among every peer sharing a session. Callers
// generate exactly one per process and pass it to every Document (via New,
// FromText, or FromSnapshot) that process creates, so that two peers editing
// the same document concurrently never allocate the same position for
// different characters.
func NewSiteID() int {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		panic(err) // Should never fail
	}
	n := int(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
	if n < 0 {
		n = -n
	}
	if n == 0 {
		n = 1
	}
	return n
}

// base is the radix used when allocating a new digit strictly between two
// existing ones.
const base = 256

func digitsOf(path []Identifier) []int {
	digits := make([]int, len(path))
	for i, id := range path {
		digits[i] = id.Digit
	}
	return digits
}

func addDigits(a, b []int) []int {
	carry := 0
	sum := make([]int, max(len(a), len(b)))
	for i := len(sum) - 1; i >= 0; i-- {
		s := carry
		if i < len(a) {
			s += a[i]
		}
		if i < len(b) {
			s += b[i]
		}
		carry = s / base
		sum[i] = s % base
	}
	if carry != 0 {
		// Paths exhausted the radix; extend on the left rather than panic,
		// since two live peers must never fail to allocate a position.
		return append([]int{carry}, sum...)
	}
	return sum
}

func subtractNoBorrow(a, b []int) []int {
	carry := 0
	diff := make([]int, max(len(a), len(b)))
	for i := len(diff) - 1; i >= 0; i-- {
		d1 := 0
		if i < len(a) {
			d1 = a[i] - carry
		}
		d2 := 0
		if i < len(b) {
			d2 = b[i]
		}
		if d1 < d2 {
			carry = 1
			diff[i] = d1 + base - d2
		} else {
			carry = 0
			diff[i] = d1 - d2
		}
	}
	return diff
}

// stepBetween returns n1 incremented by an amount strictly less than delta,
// so that n1 < result < n1+delta.
func stepBetween(n1, delta []int) []int {
	firstNonZero := -1
	for i, d := range delta {
		if d != 0 {
			firstNonZero = i
			break
		}
	}
	if firstNonZero == -1 {
		// delta is all zero: n1 and n2 were adjacent integers, extend a digit.
		return append(append([]int{}, n1...), 1)
	}

	inc := make([]int, len(delta))
	copy(inc, delta)
	for i := firstNonZero; i < len(inc); i++ {
		inc[i] = 0
	}
	if firstNonZero+1 < len(inc) {
		inc = inc[:firstNonZero+1]
	}
	inc = append(inc, 1)

	next := addDigits(n1, inc)
	if len(next) > 0 && next[len(next)-1] == 0 {
		next = addDigits(next, inc)
	}
	return next
}

func toIdentifierPath(digits []int, before, after []Identifier, creationNode int) []Identifier {
	path := make([]Identifier, len(digits))
	for i, digit := range digits {
		switch {
		case i == len(digits)-1:
			path[i] = Identifier{Digit: digit, Node: creationNode}
		case i < len(before) && digit == before[i].Digit:
			path[i] = Identifier{Digit: digit, Node: before[i].Node}
		case i < len(after) && digit == after[i].Digit:
			path[i] = Identifier{Digit: digit, Node: after[i].Node}
		default:
			path[i] = Identifier{Digit: digit, Node: creationNode}
		}
	}
	return path
}

// positionBetween allocates a fresh path strictly between before and after
// (either of which may be empty, meaning start/end of document), tagged
// with node so two sites never allocate the same path for different
// characters.
func positionBetween(before, after []Identifier, node int) []Identifier {
	var head1 Identifier
	if len(before) > 0 {
		head1 = before[0]
	} else {
		head1 = Identifier{Digit: 0, Node: node}
	}

	var head2 Identifier
	if len(after) > 0 {
		head2 = after[0]
	} else {
		head2 = Identifier{Digit: base, Node: node}
	}

	if head1.Digit != head2.Digit {
		n1 := digitsOf(before)
		n2 := digitsOf(after)
		delta := subtractNoBorrow(n2, n1)
		next := stepBetween(n1, delta)
		return toIdentifierPath(next, before, after, node)
	}

	switch {
	case head1.Node < head2.Node:
		return append([]Identifier{head1}, positionBetween(tail(before), nil, node)...)
	case head1.Node == head2.Node:
		return append([]Identifier{head1}, positionBetween(tail(before), tail(after), node)...)
	default:
		// Only reachable at the start of the document, where head1 is the
		// synthetic {0, node} and after's head has a lower node: descend
		// under after's head so the result still sorts before after.
		return append([]Identifier{head2}, positionBetween(nil, tail(after), node)...)
	}
}

// tail returns path without its first identifier; an empty path stays empty.
func tail(path []Identifier) []Identifier {
	if len(path) == 0 {
		return nil
	}
	return path[1:]
}

// comparePositions orders two paths lexicographically by (Digit, Node),
// then by length (a strict prefix sorts first).
func comparePositions(a, b []Identifier) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i].Digit != b[i].Digit {
			return a[i].Digit - b[i].Digit
		}
		if a[i].Node != b[i].Node {
			return a[i].Node - b[i].Node
		}
	}
	return len(a) - len(b)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
