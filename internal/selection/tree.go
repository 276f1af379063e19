package selection

import "sync"

// Tree guards the live checked-item tree shared between the invoking surface
// and export jobs. Jobs never hold the lock beyond a single Snapshot call.
type Tree struct {
	mu   sync.RWMutex
	root *Node
}

// NewTree wraps root. A nil root yields an empty tree.
func NewTree(root *Node) *Tree {
	return &Tree{root: root}
}

// Update mutates the tree under the write lock.
func (t *Tree) Update(fn func(root *Node) *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = fn(t.root)
}

// Snapshot copies the checked nodes in document order (depth-first,
// pre-order) under a single read-lock section. The result shares no memory
// with the live tree.
func (t *Tree) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := &Snapshot{}
	var walk func(n, parent *Node)
	walk = func(n, parent *Node) {
		if n == nil {
			return
		}
		if n.Checked {
			e := Entry{Payload: clonePayload(n.Payload)}
			switch n.Payload.(type) {
			case *ImageInstance, *OpaqueMedia:
				e.Members = siblingInstances(parent)
			}
			snap.entries = append(snap.entries, e)
		}
		for _, child := range n.Children {
			walk(child, n)
		}
	}
	walk(t.root, nil)
	return snap
}

// siblingInstances lists every image instance under parent, checked or not,
// once per SOP instance UID, in display order.
func siblingInstances(parent *Node) []ImageInstance {
	if parent == nil {
		return nil
	}
	switch parent.Payload.(type) {
	case *Series, *StudyGroup:
	default:
		return nil
	}
	seen := make(map[string]struct{}, len(parent.Children))
	members := make([]ImageInstance, 0, len(parent.Children))
	for _, child := range parent.Children {
		img, ok := child.Payload.(*ImageInstance)
		if !ok || img == nil || img.SOPInstanceUID == "" {
			continue
		}
		if _, dup := seen[img.SOPInstanceUID]; dup {
			continue
		}
		seen[img.SOPInstanceUID] = struct{}{}
		members = append(members, *img.clone())
	}
	sortMembers(members)
	return members
}

// Snapshot is an immutable, ordered copy of the checked nodes.
type Snapshot struct {
	entries []Entry
}

// Entry is one checked node in a Snapshot.
type Entry struct {
	Payload Payload
	// Members lists the image instances of the node's series, for
	// image and opaque entries.
	Members []ImageInstance
}

// Entries returns the captured entries in document order.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	return s.entries
}
