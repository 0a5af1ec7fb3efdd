package command

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ErrNotHandled is returned by Predicate handlers that report failure.
var ErrNotHandled = errors.New("command not handled")

// Handler processes one command. A non-nil error marks the command as not
// handled; it never closes the connection.
type Handler interface {
	Handle(c *Context) error
}

// HandlerFunc adapts a function returning an error.
type HandlerFunc func(c *Context) error

func (f HandlerFunc) Handle(c *Context) error { return f(c) }

// Func adapts a handler with no result; it always counts as handled.
type Func func(c *Context)

func (f Func) Handle(c *Context) error {
	f(c)
	return nil
}

// Predicate adapts a handler that reports success as a bool.
type Predicate func(c *Context) bool

func (f Predicate) Handle(c *Context) error {
	if !f(c) {
		return ErrNotHandled
	}
	return nil
}

// Declaration binds a command id to a handler.
type Declaration struct {
	ID      uint16
	Name    string
	Handler Handler
}

func Declare(id uint16, name string, h Handler) Declaration {
	return Declaration{ID: id, Name: name, Handler: h}
}

// Builder collects declarations before any connection is accepted.
type Builder struct {
	entries map[uint16]Declaration
	errs    []error
	log     *zap.Logger
}

func NewBuilder(log *zap.Logger) *Builder {
	return &Builder{
		entries: make(map[uint16]Declaration),
		log:     log,
	}
}

// Add registers declarations. Re-registering an id replaces the earlier
// handler and logs a warning. A declaration without a handler is recorded
// as an error and reported by Build.
func (b *Builder) Add(decls ...Declaration) *Builder {
	for _, d := range decls {
		if d.Handler == nil {
			b.errs = append(b.errs, fmt.Errorf("command 0x%04X (%s): nil handler", d.ID, d.Name))
			continue
		}
		if prev, ok := b.entries[d.ID]; ok {
			b.log.Warn("duplicate command registration, replacing",
				zap.String("command", fmt.Sprintf("0x%04X", d.ID)),
				zap.String("previous", prev.Name),
				zap.String("replacement", d.Name),
			)
		}
		b.entries[d.ID] = d
	}
	return b
}

// Build freezes the table. The Builder must not be used afterwards.
func (b *Builder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("build command registry: %w", errors.Join(b.errs...))
	}
	entries := make(map[uint16]Declaration, len(b.entries))
	for id, d := range b.entries {
		entries[id] = d
	}
	return &Registry{entries: entries}, nil
}

// Registry is an immutable command table. It is read without locks from
// every connection's worker.
type Registry struct {
	entries map[uint16]Declaration
}

// Lookup returns the declaration registered for id.
func (r *Registry) Lookup(id uint16) (Declaration, bool) {
	d, ok := r.entries[id]
	return d, ok
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Commands returns the registered ids in ascending order.
func (r *Registry) Commands() []uint16 {
	ids := make([]uint16, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
