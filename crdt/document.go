// Package crdt implements a positional sequence CRDT for plain text: every
// character carries a fractional identifier path that totally orders it
// against every other character, independent of insertion order or site.
// Concurrent inserts and deletes commute, and replaying the same update
// twice is a no-op, so peers that eventually see the same set of updates
// converge on the same text regardless of arrival order.
package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"svsmate/apperr"
)

// ErrInvalidUpdate is returned by ApplyRemoteUpdate when the supplied bytes
// do not decode to a well-formed Update. It wraps apperr.ErrInvalidUpdate.
var ErrInvalidUpdate = fmt.Errorf("crdt: %w", apperr.ErrInvalidUpdate)

// Origin tags who produced an update passed to an UpdateListener: a local
// edit made through ApplyLocalEdit, or a remote one replayed through
// ApplyRemoteUpdate. Listeners use this to avoid feeding remote updates
// back out as if they were newly authored locally.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Character is one live position in the document.
type Character struct {
	Pos   []Identifier `json:"pos"`
	Value rune         `json:"value"`
}

// opKind distinguishes the two primitive mutations an Update can carry.
type opKind string

const (
	opInsert opKind = "insert"
	opDelete opKind = "delete"
)

// op is one primitive mutation. An Update bundles one or more ops so that a
// single editor edit (delete a range, then insert text) applies and is
// broadcast as one atomic transaction.
type op struct {
	Kind  opKind       `json:"kind"`
	Pos   []Identifier `json:"pos"`
	Value rune         `json:"value,omitempty"`
}

// Update is the opaque wire representation handed to UpdateListener and
// accepted by ApplyRemoteUpdate. Its JSON form is what travels as the
// `update` byte array in the session transport protocol.
type Update struct {
	Ops []op `json:"ops"`
}

// Marshal renders the update to the bytes carried on the wire.
func (u Update) Marshal() []byte {
	data, err := json.Marshal(u)
	if err != nil {
		// Update only ever contains Identifier/rune/string values, which
		// always marshal.
		panic(fmt.Sprintf("crdt: update failed to marshal: %v", err))
	}
	return data
}

func unmarshalUpdate(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	return u, nil
}

// UpdateListener is notified once per applied Update, with its wire bytes
// and where it came from.
type UpdateListener func(update []byte, origin Origin)

// Document is a single collaboratively edited text CRDT.
type Document struct {
	mu    sync.Mutex
	node  int
	chars []Character // always kept sorted by position

	listeners []UpdateListener
}

// New creates an empty document. node identifies this site and must be
// unique among peers sharing the document; it seeds every position this
// site allocates.
func New(node int) *Document {
	return &Document{node: node}
}

// FromText seeds a document with existing text. Each seeded character's
// position depends only on its index (node 0), so peers that seed the same
// text independently agree on every position; node is used only for the
// positions of later local edits. Used to create a document an owner
// already has on disk, or to seed a joiner from shared content.
func FromText(text string, node int) *Document {
	d := New(node)
	if text == "" {
		return d
	}
	clock := 1
	chars := make([]Character, 0, len(text))
	for _, r := range text {
		chars = append(chars, Character{
			Pos:   []Identifier{{Digit: clock, Node: 0}},
			Value: r,
		})
		clock++
	}
	d.chars = chars
	return d
}

// Text returns the current document contents.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textLocked()
}

func (d *Document) textLocked() string {
	runes := make([]rune, len(d.chars))
	for i, c := range d.chars {
		runes[i] = c.Value
	}
	return string(runes)
}

// OnUpdate subscribes fn to every update this document applies, whether
// locally authored or replayed from a remote peer.
func (d *Document) OnUpdate(fn UpdateListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func (d *Document) notify(u Update, origin Origin) {
	data := u.Marshal()
	// Copy so a listener that blocks or mutates the slice under its own
	// goroutine cannot race the next notify call.
	listeners := make([]UpdateListener, len(d.listeners))
	copy(listeners, d.listeners)
	for _, l := range listeners {
		l(data, origin)
	}
}

// ApplyLocalEdit mutates the document for a single editor change: delete
// deleteLen runes starting at offset, then insert insertText at offset, as
// one atomic transaction. It emits exactly one OriginLocal update, or none
// when the edit neither deletes nor inserts anything.
func (d *Document) ApplyLocalEdit(offset, deleteLen int, insertText string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if offset < 0 || offset > len(d.chars) || deleteLen < 0 || offset+deleteLen > len(d.chars) {
		return fmt.Errorf("crdt: edit range [%d,%d) out of bounds for length %d", offset, offset+deleteLen, len(d.chars))
	}

	var ops []op

	deleted := append([]Character{}, d.chars[offset:offset+deleteLen]...)
	for _, c := range deleted {
		ops = append(ops, op{Kind: opDelete, Pos: c.Pos})
	}
	d.chars = append(d.chars[:offset], d.chars[offset+deleteLen:]...)

	insertPoint := offset
	var before []Identifier
	if insertPoint > 0 {
		before = d.chars[insertPoint-1].Pos
	}
	for _, r := range insertText {
		var after []Identifier
		if insertPoint < len(d.chars) {
			after = d.chars[insertPoint].Pos
		}
		pos := positionBetween(before, after, d.node)
		c := Character{Pos: pos, Value: r}
		d.chars = append(d.chars, Character{})
		copy(d.chars[insertPoint+1:], d.chars[insertPoint:])
		d.chars[insertPoint] = c
		ops = append(ops, op{Kind: opInsert, Pos: pos, Value: r})
		before = pos
		insertPoint++
	}

	if len(ops) == 0 {
		return nil
	}
	u := Update{Ops: ops}
	d.notify(u, OriginLocal)
	return nil
}

// ApplyRemoteUpdate replays an update received from a peer. It is
// idempotent (inserting a position already present, or deleting one
// already absent, is a no-op) so redelivery or reordering across peers
// cannot diverge state. It never re-emits an OriginLocal notification.
func (d *Document) ApplyRemoteUpdate(data []byte, originID string) error {
	u, err := unmarshalUpdate(data)
	if err != nil {
		return err
	}

	for _, o := range u.Ops {
		if o.Kind != opInsert && o.Kind != opDelete {
			return fmt.Errorf("%w: unknown op kind %q", ErrInvalidUpdate, o.Kind)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, o := range u.Ops {
		switch o.Kind {
		case opInsert:
			d.insertPositionLocked(o.Pos, o.Value)
		case opDelete:
			d.deletePositionLocked(o.Pos)
		default:
			return fmt.Errorf("%w: unknown op kind %q", ErrInvalidUpdate, o.Kind)
		}
	}

	d.notify(u, OriginRemote)
	return nil
}

func (d *Document) insertPositionLocked(pos []Identifier, value rune) {
	idx := sort.Search(len(d.chars), func(i int) bool {
		return comparePositions(d.chars[i].Pos, pos) >= 0
	})
	if idx < len(d.chars) && comparePositions(d.chars[idx].Pos, pos) == 0 {
		return // already present: idempotent
	}
	d.chars = append(d.chars, Character{})
	copy(d.chars[idx+1:], d.chars[idx:])
	d.chars[idx] = Character{Pos: pos, Value: value}
}

func (d *Document) deletePositionLocked(pos []Identifier) {
	idx := sort.Search(len(d.chars), func(i int) bool {
		return comparePositions(d.chars[i].Pos, pos) >= 0
	})
	if idx >= len(d.chars) || comparePositions(d.chars[idx].Pos, pos) != 0 {
		return // already absent: idempotent
	}
	d.chars = append(d.chars[:idx], d.chars[idx+1:]...)
}

// snapshotState is the JSON form used by Snapshot/FromSnapshot. It is the
// same set of fields a fresh document needs to reconstruct identical text
// and identical positions, so a late joiner seeded from a snapshot can
// still receive and apply updates generated against the original.
type snapshotState struct {
	Chars []Character `json:"chars"`
}

// Snapshot returns the full document state as bytes sufficient to
// reconstruct it identically via FromSnapshot.
func (d *Document) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := json.Marshal(snapshotState{Chars: d.chars})
	if err != nil {
		panic(fmt.Sprintf("crdt: snapshot failed to marshal: %v", err))
	}
	return data
}

// FromSnapshot reconstructs a document from bytes produced by Snapshot.
// node is this site's own id for future local edits; it need not match the
// node that produced the snapshot.
func FromSnapshot(data []byte, node int) (*Document, error) {
	var s snapshotState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	d := New(node)
	d.chars = s.Chars
	return d, nil
}

// ConvergeText rewrites the document to content if its current text
// differs, as a single local delete-all-then-insert transaction. A no-op,
// emitting nothing, when the text already matches byte-for-byte.
func (d *Document) ConvergeText(content string) error {
	d.mu.Lock()
	current := d.textLocked()
	d.mu.Unlock()
	if current == content {
		return nil
	}
	return d.ApplyLocalEdit(0, len([]rune(current)), content)
}
