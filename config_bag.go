package orkestra

import (
	"fmt"
	"strings"
)

// keyIdentity gives every Key a unique, comparable address. Two keys created
// with the same name are still distinct.
type keyIdentity struct {
	name string
}

// unset marks a key as explicitly cleared in a layer, hiding older values.
type unset struct{}

// Key is a typed handle into a ConfigBag.
type Key[T any] struct {
	id *keyIdentity
}

// NewKey creates a new typed configuration key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{id: &keyIdentity{name: name}}
}

// Name returns the diagnostic name of the key.
func (k Key[T]) Name() string {
	if k.id == nil {
		return "<nil>"
	}
	return k.id.name
}

// Put stores v in the layer. Frozen layers are never affected.
func (k Key[T]) Put(l *Layer, v T) {
	l.set(k.id, v)
}

// Unset records an explicit absence that hides values from older layers.
func (k Key[T]) Unset(l *Layer) {
	l.set(k.id, unset{})
}

// Store writes v into the bag's interceptor state layer.
func (k Key[T]) Store(b *ConfigBag, v T) {
	k.Put(b.state, v)
}

// Get loads the newest value for the key. A missing key is not an error.
func (k Key[T]) Get(b *ConfigBag) (T, bool) {
	var zero T
	if b == nil {
		return zero, false
	}
	raw, ok := b.lookup(k.id)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// GetOr loads the newest value for the key or returns def.
func (k Key[T]) GetOr(b *ConfigBag, def T) T {
	if v, ok := k.Get(b); ok {
		return v
	}
	return def
}

// Layer is a named set of configuration values under construction.
type Layer struct {
	name   string
	values map[*keyIdentity]any
}

// NewLayer creates an empty mutable layer.
func NewLayer(name string) *Layer {
	return &Layer{name: name, values: make(map[*keyIdentity]any)}
}

// Name returns the layer name.
func (l *Layer) Name() string { return l.name }

// Len returns the number of keys stored in the layer, tombstones included.
func (l *Layer) Len() int { return len(l.values) }

func (l *Layer) set(id *keyIdentity, v any) {
	if l.values == nil {
		l.values = make(map[*keyIdentity]any)
	}
	l.values[id] = v
}

// Freeze snapshots the layer. Later writes to l do not reach the frozen copy.
func (l *Layer) Freeze() *FrozenLayer {
	values := make(map[*keyIdentity]any, len(l.values))
	for k, v := range l.values {
		values[k] = v
	}
	return &FrozenLayer{name: l.name, values: values}
}

// FrozenLayer is an immutable layer. It is safe to share between calls and
// goroutines.
type FrozenLayer struct {
	name   string
	values map[*keyIdentity]any
}

// Name returns the layer name.
func (f *FrozenLayer) Name() string { return f.name }

// ConfigBag is a stack of frozen layers topped by a mutable interceptor state
// layer that belongs to a single call.
type ConfigBag struct {
	layers []*FrozenLayer
	state  *Layer
}

// NewConfigBag creates a bag from base layers, oldest first.
func NewConfigBag(layers ...*FrozenLayer) *ConfigBag {
	b := &ConfigBag{state: NewLayer("interceptor_state")}
	for _, l := range layers {
		if l != nil {
			b.layers = append(b.layers, l)
		}
	}
	return b
}

// Fork returns a new bag sharing this bag's frozen layers with a fresh
// interceptor state layer.
func (b *ConfigBag) Fork() *ConfigBag {
	layers := make([]*FrozenLayer, len(b.layers))
	copy(layers, b.layers)
	return &ConfigBag{layers: layers, state: NewLayer("interceptor_state")}
}

// PushLayer places a frozen layer on top of the stack, below interceptor state.
func (b *ConfigBag) PushLayer(l *FrozenLayer) {
	if l == nil {
		return
	}
	b.layers = append(b.layers, l)
}

// Depth returns the number of frozen layers on the stack.
func (b *ConfigBag) Depth() int { return len(b.layers) }

func (b *ConfigBag) truncate(depth int) {
	for i := depth; i < len(b.layers); i++ {
		b.layers[i] = nil
	}
	b.layers = b.layers[:depth]
}

// WithLayerScope freezes l, pushes it and runs fn. The layer is popped when fn
// returns or panics.
func (b *ConfigBag) WithLayerScope(l *Layer, fn func() error) error {
	depth := len(b.layers)
	b.PushLayer(l.Freeze())
	defer b.truncate(depth)
	return fn()
}

// InterceptorState returns the mutable layer owned by the current call.
func (b *ConfigBag) InterceptorState() *Layer { return b.state }

func (b *ConfigBag) lookup(id *keyIdentity) (any, bool) {
	if v, ok := b.state.values[id]; ok {
		return present(v)
	}
	for i := len(b.layers) - 1; i >= 0; i-- {
		if v, ok := b.layers[i].values[id]; ok {
			return present(v)
		}
	}
	return nil, false
}

func present(v any) (any, bool) {
	if _, cleared := v.(unset); cleared {
		return nil, false
	}
	return v, true
}

// String lists layer names from newest to oldest.
func (b *ConfigBag) String() string {
	names := make([]string, 0, len(b.layers)+1)
	names = append(names, fmt.Sprintf("%s(%d)", b.state.name, b.state.Len()))
	for i := len(b.layers) - 1; i >= 0; i-- {
		names = append(names, fmt.Sprintf("%s(%d)", b.layers[i].name, len(b.layers[i].values)))
	}
	return "ConfigBag[" + strings.Join(names, " > ") + "]"
}
