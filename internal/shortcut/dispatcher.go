// Package shortcut implements the global keyboard-shortcut dispatcher:
// a single-consumer router from normalized key combinations to handlers,
// with context scoping, a master enable switch, and input-field
// suppression rules.
package shortcut

import (
	"runtime"
	gosync "sync"
)

// Context scopes which registered handlers are eligible to fire. Exactly
// one context is active at a time, so a modal surface can own the
// keyboard without global registrations being removed.
type Context int

const (
	ContextGlobal Context = iota
	ContextEditor
)

// Target classifies the focused element when a key event arrives.
type Target int

const (
	// TargetDefault is any non-editing focus target.
	TargetDefault Target = iota

	// TargetTextInput is a text-entry control (input, textarea,
	// content-editable). Dispatch is suppressed for these unless the
	// matched entry is allow-listed.
	TargetTextInput
)

// Event is one raw key press as seen by the host surface.
type Event struct {
	Key    string
	Ctrl   bool
	Alt    bool
	Shift  bool
	Meta   bool
	Target Target
}

// modifiers collects the event's held modifiers as a bit set.
func (e Event) modifiers() Modifier {
	var m Modifier
	if e.Ctrl {
		m |= ModCtrl
	}
	if e.Alt {
		m |= ModAlt
	}
	if e.Shift {
		m |= ModShift
	}
	if e.Meta {
		m |= ModMeta
	}
	return m
}

// Binding describes one registered combination.
type Binding struct {
	// Key is the base key, normalized on registration.
	Key string

	// Modifiers is the required modifier set. Order never matters; the
	// set must match the event's exactly.
	Modifiers Modifier

	// Context the binding belongs to.
	Context Context

	// AllowInInput lets the binding fire while a text input has focus,
	// in addition to the dispatcher's fixed allow-list.
	AllowInInput bool

	// PassThrough opts out of the default prevent-default /
	// stop-propagation behavior on a firing match.
	PassThrough bool
}

// Handler runs when its binding fires.
type Handler func(Event)

// Outcome tells the host surface what to do with the raw event.
type Outcome struct {
	// Handled reports whether a handler fired.
	Handled bool

	// PreventDefault and StopPropagation are set on a firing match
	// unless the registration opted out.
	PreventDefault  bool
	StopPropagation bool
}

// entry is one live registration.
type entry struct {
	id      string
	combo   string
	binding Binding
	handler Handler
}

// Dispatcher routes normalized key events to at most one handler per
// event. Construct with New and dispose by dropping all references;
// there is no package-level instance.
type Dispatcher struct {
	mu            gosync.Mutex
	entries       []entry
	context       Context
	enabled       bool
	metaIsPrimary bool
}

// New creates a dispatcher with the Global context active and dispatch
// enabled. The platform's primary accelerator modifier is detected from
// the runtime.
func New() *Dispatcher {
	return &Dispatcher{
		enabled:       true,
		context:       ContextGlobal,
		metaIsPrimary: runtime.GOOS == "darwin",
	}
}

// SetMetaPrimary overrides platform detection of the primary accelerator
// modifier. Exposed for tests and embedders that know better.
func (d *Dispatcher) SetMetaPrimary(meta bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metaIsPrimary = meta
}

// Register adds a binding under an id and returns its unregister
// function. Registering an id that is already present replaces the
// prior registration in place (keeping its position in match order).
func (d *Dispatcher) Register(id string, b Binding, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	mods := resolvePrimary(b.Modifiers, d.metaIsPrimary)
	en := entry{
		id:      id,
		combo:   comboString(mods, b.Key),
		binding: b,
		handler: h,
	}

	replaced := false
	for i := range d.entries {
		if d.entries[i].id == id {
			d.entries[i] = en
			replaced = true
			break
		}
	}
	if !replaced {
		d.entries = append(d.entries, en)
	}

	return func() { d.unregister(id) }
}

// unregister removes a registration by id.
func (d *Dispatcher) unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.entries[:0]
	for _, en := range d.entries {
		if en.id == id {
			continue
		}
		kept = append(kept, en)
	}
	d.entries = kept
}

// SetContext switches the active context.
func (d *Dispatcher) SetContext(ctx Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.context = ctx
}

// ActiveContext returns the context currently owning the keyboard.
func (d *Dispatcher) ActiveContext() Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.context
}

// SetEnabled is the master kill switch; when disabled, no handler fires
// regardless of context.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Dispatch normalizes a raw key event, finds the first matching
// registration for the active context, applies input-field suppression,
// and invokes exactly one handler. Dispatch never fans out: matching
// stops at the first hit in registration order.
func (d *Dispatcher) Dispatch(ev Event) Outcome {
	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return Outcome{}
	}

	combo := comboString(ev.modifiers(), ev.Key)

	// The match is copied out before the lock drops so a concurrent
	// re-registration cannot swap the entry under the handler call.
	var matched entry
	found := false
	for _, en := range d.entries {
		if en.binding.Context != d.context {
			continue
		}
		if en.combo == combo {
			matched = en
			found = true
			break
		}
	}
	d.mu.Unlock()

	if !found {
		return Outcome{}
	}

	if ev.Target == TargetTextInput &&
		!matched.binding.AllowInInput &&
		!inputAllowListed(ev) {
		return Outcome{}
	}

	matched.handler(ev)

	out := Outcome{Handled: true}
	if !matched.binding.PassThrough {
		out.PreventDefault = true
		out.StopPropagation = true
	}
	return out
}

// inputAllowListed is the fixed allow-list of combinations that fire
// even while a text input has focus: Escape, Enter, and any ctrl/meta
// combination on f or n.
func inputAllowListed(ev Event) bool {
	key := canonicalKey(ev.Key)
	if key == "escape" || key == "enter" {
		return true
	}
	if (ev.Ctrl || ev.Meta) && (key == "f" || key == "n") {
		return true
	}
	return false
}
