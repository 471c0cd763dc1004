// Package replica is the canvas document: an automerge doc holding an ordered
// list of shapes under the root key "shapes".
//
// A Replica is not safe for concurrent use. The relay guards each room's replica
// with the room lock and the sync client guards its own with the canvas lock.
package replica

import (
	"errors"
	"fmt"

	"github.com/automerge/automerge-go"
)

const shapesKey = "shapes"

var (
	ErrCorruptUpdate = errors.New("corrupt update")
	ErrMissingID     = errors.New("shape has no id")
)

type Replica struct {
	doc           *automerge.Doc
	onLocalChange func(update []byte)
}

// New creates a room seed: a document with an empty shapes list already
// committed. Every other replica of the room must be bootstrapped from this
// seed (directly or transitively) so that all of them append to the same list.
func New() (*Replica, error) {
	doc := automerge.New()
	if err := doc.RootMap().Set(shapesKey, automerge.NewList()); err != nil {
		return nil, fmt.Errorf("failed to create shapes list: %w", err)
	}
	if _, err := doc.Commit("seed"); err != nil {
		return nil, fmt.Errorf("failed to commit seed: %w", err)
	}
	return wrap(doc), nil
}

// Load bootstraps a replica from a snapshot produced by Snapshot.
func Load(snapshot []byte) (*Replica, error) {
	doc, err := automerge.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptUpdate, err)
	}
	return wrap(doc), nil
}

func wrap(doc *automerge.Doc) *Replica {
	// reset the incremental save marker so the first local change only carries itself
	_ = doc.SaveIncremental()
	return &Replica{doc: doc}
}

// OnLocalChange registers the callback that receives the binary update of every
// local mutation, synchronously, before the mutating call returns.
func (r *Replica) OnLocalChange(fn func(update []byte)) {
	r.onLocalChange = fn
}

func (r *Replica) ActorID() string {
	return r.doc.ActorID()
}

func (r *Replica) Heads() []string {
	heads := r.doc.Heads()
	out := make([]string, len(heads))
	for i, h := range heads {
		out[i] = h.String()
	}
	return out
}

// Snapshot encodes the full document state.
func (r *Replica) Snapshot() []byte {
	return r.doc.Save()
}

// Apply merges a snapshot or incremental update produced by any replica of the
// same room. Applying the same update more than once is harmless, and changes
// whose dependencies have not arrived yet are held until they do.
func (r *Replica) Apply(update []byte) error {
	// LoadIncremental drops chunks it cannot parse without reporting them, so
	// the framing is checked up front.
	if err := checkChunks(update); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptUpdate, err)
	}
	if err := r.doc.LoadIncremental(update); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptUpdate, err)
	}
	// remote changes are not ours to rebroadcast
	_ = r.doc.SaveIncremental()
	return nil
}

// list resolves the shapes list object. Lists reached through Path.List are
// bound to the path rather than the object and cannot be edited in place.
func (r *Replica) list() (*automerge.List, error) {
	v, err := r.doc.Path(shapesKey).Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read shapes: %w", err)
	}
	if v.Kind() != automerge.KindList {
		return nil, fmt.Errorf("shapes is %v, not a list", v.Kind())
	}
	return v.List(), nil
}

func (r *Replica) Len() int {
	l, err := r.list()
	if err != nil {
		return 0
	}
	return l.Len()
}

// Shapes returns the current shape list in document order.
func (r *Replica) Shapes() ([]Shape, error) {
	l, err := r.list()
	if err != nil {
		return nil, err
	}
	values, err := l.Values()
	if err != nil {
		return nil, fmt.Errorf("failed to read shapes: %w", err)
	}
	out := make([]Shape, 0, len(values))
	for i, v := range values {
		s, err := shapeFromValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode shape %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Add appends s to the shared list.
func (r *Replica) Add(s Shape) error {
	if s.ID == "" {
		return ErrMissingID
	}
	l, err := r.list()
	if err != nil {
		return err
	}
	if err := l.Append(s.toMap()); err != nil {
		return fmt.Errorf("failed to append shape: %w", err)
	}
	return r.commit("add " + s.ID)
}

// Update replaces the shape with the given id by deleting it and inserting the
// patched copy at the same index. It reports false, and changes nothing, when
// no shape has that id.
func (r *Replica) Update(id string, patch ShapePatch) (bool, error) {
	idx, current, err := r.find(id)
	if err != nil || idx < 0 {
		return false, err
	}
	next := patch.applyTo(current)
	l, err := r.list()
	if err != nil {
		return false, err
	}
	if err := l.Delete(idx); err != nil {
		return false, fmt.Errorf("failed to delete shape %s: %w", id, err)
	}
	if err := l.Insert(idx, next.toMap()); err != nil {
		return false, fmt.Errorf("failed to insert shape %s: %w", id, err)
	}
	return true, r.commit("update " + id)
}

// Delete removes the shape with the given id. It reports false, and changes
// nothing, when no shape has that id.
func (r *Replica) Delete(id string) (bool, error) {
	idx, _, err := r.find(id)
	if err != nil || idx < 0 {
		return false, err
	}
	l, err := r.list()
	if err != nil {
		return false, err
	}
	if err := l.Delete(idx); err != nil {
		return false, fmt.Errorf("failed to delete shape %s: %w", id, err)
	}
	return true, r.commit("delete " + id)
}

func (r *Replica) find(id string) (int, Shape, error) {
	shapes, err := r.Shapes()
	if err != nil {
		return -1, Shape{}, err
	}
	for i, s := range shapes {
		if s.ID == id {
			return i, s, nil
		}
	}
	return -1, Shape{}, nil
}

func (r *Replica) commit(msg string) error {
	if _, err := r.doc.Commit(msg); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	update := r.doc.SaveIncremental()
	if r.onLocalChange != nil && len(update) > 0 {
		r.onLocalChange(update)
	}
	return nil
}
