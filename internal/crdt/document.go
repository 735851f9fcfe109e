package crdt

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

var (
	// ErrMalformedUpdate indicates that an update payload could not be decoded or validated.
	ErrMalformedUpdate = errors.New("crdt: malformed update")
	// ErrMalformedStateVector indicates that a state vector payload could not be decoded.
	ErrMalformedStateVector = errors.New("crdt: malformed state vector")
	// ErrIndexOutOfRange indicates that a local edit referenced a position outside the text.
	ErrIndexOutOfRange = errors.New("crdt: index out of range")
)

// Document is a single mergeable text document. ApplyUpdate is commutative,
// associative and idempotent: any set of updates applied in any order, any
// number of times, yields the same Text.
//
// Implementations are not required to be safe for concurrent use; callers
// serialize access.
type Document interface {
	ApplyUpdate(update []byte) error
	EncodeFullState() ([]byte, error)
	EncodeDiffSince(stateVector []byte) ([]byte, error)
	Text() string
	StateVector() ([]byte, error)
}

// ItemID identifies one inserted character across all replicas.
type ItemID struct {
	Client string `cbor:"c"`
	Clock  uint64 `cbor:"k"`
}

func (id ItemID) String() string {
	return fmt.Sprintf("%s@%d", id.Client, id.Clock)
}

// precedes orders siblings: newer insertions at the same origin come first.
func (id ItemID) precedes(other ItemID) bool {
	if id.Clock != other.Clock {
		return id.Clock > other.Clock
	}
	return id.Client > other.Client
}

type wireItem struct {
	ID     ItemID  `cbor:"i"`
	Origin *ItemID `cbor:"o,omitempty"`
	Value  string  `cbor:"v"`
}

type wireUpdate struct {
	Items   []wireItem `cbor:"items,omitempty"`
	Deletes []ItemID   `cbor:"deletes,omitempty"`
}

type node struct {
	id       ItemID
	origin   *ItemID
	value    string
	deleted  bool
	children []*node
}

// TextDocument is a causal-tree text CRDT. Every character is a node whose
// parent is the character it was typed after; siblings are ordered by
// descending (clock, client). The visible text is the pre-order traversal
// of the tree minus tombstoned nodes, which depends only on the set of
// items known and not on the order they arrived in.
type TextDocument struct {
	clientID string
	clock    uint64
	root     *node
	nodes    map[ItemID]*node
	deletes  map[ItemID]struct{}
	pending  map[ItemID][]wireItem
	vector   map[string]uint64
}

// NewTextDocument returns an empty document that issues local edits as clientID.
func NewTextDocument(clientID string) *TextDocument {
	return &TextDocument{
		clientID: clientID,
		root:     &node{},
		nodes:    make(map[ItemID]*node),
		deletes:  make(map[ItemID]struct{}),
		pending:  make(map[ItemID][]wireItem),
		vector:   make(map[string]uint64),
	}
}

// ApplyUpdate merges an encoded update. The update is validated in full
// before any state changes, so a rejected update leaves the document untouched.
func (d *TextDocument) ApplyUpdate(update []byte) error {
	decoded, err := decodeUpdate(update)
	if err != nil {
		return err
	}
	for _, item := range decoded.Items {
		d.integrate(item)
	}
	for _, id := range decoded.Deletes {
		d.markDeleted(id)
	}
	return nil
}

// EncodeFullState encodes every known item and tombstone as a single update.
func (d *TextDocument) EncodeFullState() ([]byte, error) {
	return d.encodeFiltered(nil)
}

// EncodeDiffSince encodes the items the holder of stateVector has not seen.
// Tombstones are always included in full.
func (d *TextDocument) EncodeDiffSince(stateVector []byte) ([]byte, error) {
	remote := map[string]uint64{}
	if len(stateVector) > 0 {
		if err := unmarshal(stateVector, &remote); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedStateVector, err)
		}
	}
	return d.encodeFiltered(remote)
}

// StateVector encodes the highest clock integrated per client.
func (d *TextDocument) StateVector() ([]byte, error) {
	return marshal(d.vector)
}

// Text returns the visible document text.
func (d *TextDocument) Text() string {
	var builder strings.Builder
	d.walk(func(n *node) {
		if !n.deleted {
			builder.WriteString(n.value)
		}
	})
	return builder.String()
}

// Insert inserts text at the visible rune index and returns the update to share.
func (d *TextDocument) Insert(index int, text string) ([]byte, error) {
	visible := d.visibleNodes()
	if index < 0 || index > len(visible) {
		return nil, fmt.Errorf("%w: insert at %d of %d", ErrIndexOutOfRange, index, len(visible))
	}
	var origin *ItemID
	if index > 0 {
		id := visible[index-1].id
		origin = &id
	}
	update := wireUpdate{Items: make([]wireItem, 0, utf8.RuneCountInString(text))}
	for _, r := range text {
		d.clock++
		item := wireItem{
			ID:     ItemID{Client: d.clientID, Clock: d.clock},
			Origin: origin,
			Value:  string(r),
		}
		d.integrate(item)
		update.Items = append(update.Items, item)
		id := item.ID
		origin = &id
	}
	return marshal(update)
}

// Delete tombstones length visible runes starting at index and returns the update to share.
func (d *TextDocument) Delete(index, length int) ([]byte, error) {
	visible := d.visibleNodes()
	if index < 0 || length < 0 || index+length > len(visible) {
		return nil, fmt.Errorf("%w: delete %d at %d of %d", ErrIndexOutOfRange, length, index, len(visible))
	}
	update := wireUpdate{Deletes: make([]ItemID, 0, length)}
	for _, n := range visible[index : index+length] {
		d.markDeleted(n.id)
		update.Deletes = append(update.Deletes, n.id)
	}
	return marshal(update)
}

func (d *TextDocument) integrate(item wireItem) {
	queue := []wireItem{item}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, known := d.nodes[current.ID]; known {
			continue
		}
		parent := d.root
		if current.Origin != nil {
			originNode, ok := d.nodes[*current.Origin]
			if !ok {
				d.pending[*current.Origin] = append(d.pending[*current.Origin], current)
				continue
			}
			parent = originNode
		}
		n := &node{id: current.ID, origin: current.Origin, value: current.Value}
		if _, tombstoned := d.deletes[current.ID]; tombstoned {
			n.deleted = true
		}
		parent.children = insertSorted(parent.children, n)
		d.nodes[current.ID] = n
		if current.ID.Clock > d.vector[current.ID.Client] {
			d.vector[current.ID.Client] = current.ID.Clock
		}
		if current.ID.Clock > d.clock {
			d.clock = current.ID.Clock
		}
		if waiting, ok := d.pending[current.ID]; ok {
			delete(d.pending, current.ID)
			queue = append(queue, waiting...)
		}
	}
}

func (d *TextDocument) markDeleted(id ItemID) {
	d.deletes[id] = struct{}{}
	if n, ok := d.nodes[id]; ok {
		n.deleted = true
	}
}

func (d *TextDocument) walk(visit func(*node)) {
	stack := make([]*node, 0, len(d.root.children))
	for i := len(d.root.children) - 1; i >= 0; i-- {
		stack = append(stack, d.root.children[i])
	}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(current)
		for i := len(current.children) - 1; i >= 0; i-- {
			stack = append(stack, current.children[i])
		}
	}
}

func (d *TextDocument) visibleNodes() []*node {
	visible := make([]*node, 0, len(d.nodes))
	d.walk(func(n *node) {
		if !n.deleted {
			visible = append(visible, n)
		}
	})
	return visible
}

func (d *TextDocument) encodeFiltered(remote map[string]uint64) ([]byte, error) {
	seen := func(id ItemID) bool {
		if remote == nil {
			return false
		}
		return id.Clock <= remote[id.Client]
	}
	update := wireUpdate{}
	d.walk(func(n *node) {
		if seen(n.id) {
			return
		}
		update.Items = append(update.Items, wireItem{ID: n.id, Origin: n.origin, Value: n.value})
	})
	for _, waiting := range d.pending {
		for _, item := range waiting {
			if !seen(item.ID) {
				update.Items = append(update.Items, item)
			}
		}
	}
	for id := range d.deletes {
		update.Deletes = append(update.Deletes, id)
	}
	slices.SortFunc(update.Deletes, func(a, b ItemID) int {
		if c := cmp.Compare(a.Client, b.Client); c != 0 {
			return c
		}
		return cmp.Compare(a.Clock, b.Clock)
	})
	return marshal(update)
}

func insertSorted(children []*node, n *node) []*node {
	position := len(children)
	for i, sibling := range children {
		if n.id.precedes(sibling.id) {
			position = i
			break
		}
	}
	children = append(children, nil)
	copy(children[position+1:], children[position:])
	children[position] = n
	return children
}

func decodeUpdate(update []byte) (wireUpdate, error) {
	if len(update) == 0 {
		return wireUpdate{}, fmt.Errorf("%w: empty", ErrMalformedUpdate)
	}
	var decoded wireUpdate
	if err := unmarshal(update, &decoded); err != nil {
		return wireUpdate{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	for _, item := range decoded.Items {
		if item.ID.Client == "" || item.ID.Clock == 0 {
			return wireUpdate{}, fmt.Errorf("%w: invalid item id %s", ErrMalformedUpdate, item.ID)
		}
		if item.Origin != nil && (item.Origin.Client == "" || item.Origin.Clock == 0) {
			return wireUpdate{}, fmt.Errorf("%w: invalid origin for %s", ErrMalformedUpdate, item.ID)
		}
		if utf8.RuneCountInString(item.Value) != 1 {
			return wireUpdate{}, fmt.Errorf("%w: item %s must carry one rune", ErrMalformedUpdate, item.ID)
		}
	}
	for _, id := range decoded.Deletes {
		if id.Client == "" || id.Clock == 0 {
			return wireUpdate{}, fmt.Errorf("%w: invalid delete id %s", ErrMalformedUpdate, id)
		}
	}
	return decoded, nil
}
