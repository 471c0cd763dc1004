package syncclient

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/astromechza/canvas-sync/pkg/replica"
)

// ErrNotReady is returned by Canvas mutations until the room snapshot has been
// merged.
var ErrNotReady = errors.New("canvas is not bootstrapped yet")

// Sender carries local updates to the room. *Conn is one.
type Sender interface {
	Send(v any) bool
}

// Canvas is the local replica of a room's shapes. Inbound updates arrive via
// Merge; local mutations are committed and their updates handed to the Sender
// before the mutating call returns.
type Canvas struct {
	sender Sender

	mu      sync.Mutex
	rep     *replica.Replica
	shapes  []replica.Shape
	pending [][]byte
	subs    map[int]func([]replica.Shape)
	nextSub int
}

func NewCanvas(sender Sender) *Canvas {
	return &Canvas{
		sender: sender,
		subs:   make(map[int]func([]replica.Shape)),
	}
}

// Ready reports whether the first snapshot has been merged.
func (c *Canvas) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rep != nil
}

// Merge applies a binary payload from the room. The first one must be the room
// snapshot and becomes the local replica.
func (c *Canvas) Merge(update []byte) error {
	c.mu.Lock()
	if c.rep == nil {
		rep, err := replica.Load(update)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		rep.OnLocalChange(c.queueLocked)
		c.rep = rep
	} else if err := c.rep.Apply(update); err != nil {
		c.mu.Unlock()
		return err
	}
	shapes, subs, err := c.refreshLocked()
	c.mu.Unlock()

	if err != nil {
		return err
	}
	notify(subs, shapes)
	return nil
}

// AddShape appends s, generating an id when it has none, and returns the id.
func (c *Canvas) AddShape(s replica.Shape) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	err := c.mutate(func(rep *replica.Replica) (bool, error) {
		return true, rep.Add(s)
	})
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// UpdateShape applies patch to the shape with the given id. Unknown ids are
// ignored.
func (c *Canvas) UpdateShape(id string, patch replica.ShapePatch) error {
	return c.mutate(func(rep *replica.Replica) (bool, error) {
		return rep.Update(id, patch)
	})
}

// DeleteShape removes the shape with the given id. Unknown ids are ignored.
func (c *Canvas) DeleteShape(id string) error {
	return c.mutate(func(rep *replica.Replica) (bool, error) {
		return rep.Delete(id)
	})
}

// Shapes returns the shape list as of the last local or remote change.
func (c *Canvas) Shapes() []replica.Shape {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]replica.Shape(nil), c.shapes...)
}

// Snapshot encodes the local replica, or returns nil before bootstrap.
func (c *Canvas) Snapshot() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rep == nil {
		return nil
	}
	return c.rep.Snapshot()
}

// Subscribe calls fn with the new shape list after every change. The returned
// func removes the subscription.
func (c *Canvas) Subscribe(fn func([]replica.Shape)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Canvas) queueLocked(update []byte) {
	c.pending = append(c.pending, update)
}

func (c *Canvas) mutate(fn func(*replica.Replica) (bool, error)) error {
	c.mu.Lock()
	if c.rep == nil {
		c.mu.Unlock()
		return ErrNotReady
	}
	changed, err := fn(c.rep)
	pending := c.pending
	c.pending = nil

	var shapes []replica.Shape
	var subs []func([]replica.Shape)
	if changed {
		var refreshErr error
		shapes, subs, refreshErr = c.refreshLocked()
		err = errors.Join(err, refreshErr)
	}
	c.mu.Unlock()

	for _, update := range pending {
		c.sender.Send(update)
	}
	if err != nil {
		return err
	}
	if changed {
		notify(subs, shapes)
	}
	return nil
}

func (c *Canvas) refreshLocked() ([]replica.Shape, []func([]replica.Shape), error) {
	shapes, err := c.rep.Shapes()
	if err != nil {
		return nil, nil, err
	}
	c.shapes = shapes
	subs := make([]func([]replica.Shape), 0, len(c.subs))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	return append([]replica.Shape(nil), shapes...), subs, nil
}

func notify(subs []func([]replica.Shape), shapes []replica.Shape) {
	for _, fn := range subs {
		fn(shapes)
	}
}
