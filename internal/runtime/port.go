package runtime

import (
	"github.com/roach88/quartz/internal/token"
)

// Port is an input or output endpoint of a reactor. A port becomes
// present only during the tag in which it was set; the runtime resets
// all ports when the logical clock advances.
//
// Setting an output propagates at the same tag to every connected
// input, sharing one token across the fan-out. Each present port holds
// one reference to the token; those references are released at the next
// tag boundary.
type Port struct {
	name    string
	reactor *Reactor
	id      int
	input   bool

	elementSize int

	// Present-at-current-tag state, protected by the runtime critical
	// section.
	present bool
	value   any
	tok     *token.Token

	destinations []*Port     // downstream inputs, outputs only
	reactions    []*Reaction // reactions triggered when present, inputs only

	destructor token.Destructor
	copyCtor   token.CopyConstructor
}

// PortOption configures a port at construction.
type PortOption func(*Port)

// PortElementSize declares the payload element size in bytes, used by
// SetNew to size allocated payloads.
func PortElementSize(n int) PortOption {
	return func(p *Port) { p.elementSize = n }
}

// NewOutput declares an output port on the reactor.
func (r *Reactor) NewOutput(name string, opts ...PortOption) *Port {
	return r.newPort(name, false, opts)
}

// NewInput declares an input port on the reactor.
func (r *Reactor) NewInput(name string, opts ...PortOption) *Port {
	return r.newPort(name, true, opts)
}

func (r *Reactor) newPort(name string, input bool, opts []PortOption) *Port {
	p := &Port{
		name:        r.name + "." + name,
		reactor:     r,
		id:          len(r.rt.ports),
		input:       input,
		elementSize: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	r.rt.ports = append(r.rt.ports, p)
	return p
}

// Connect wires an output port to an input port. Connections are fixed
// once Run starts.
func (rt *Runtime) Connect(out, in *Port) {
	if out.input || !in.input {
		panic(&Error{Code: ErrCodeBadGraph, Message: "Connect requires an output and an input port"})
	}
	out.destinations = append(out.destinations, in)
}

// Name returns the port's name, qualified by its reactor.
func (p *Port) Name() string { return p.name }

// NumDestinations returns the port's fan-out.
func (p *Port) NumDestinations() int { return len(p.destinations) }

// IsPresent reports whether the port was set at the tag currently being
// processed.
func (p *Port) IsPresent() bool { return p.present }

// Get returns the port's value at the current tag, nil when absent.
func (p *Port) Get() any { return p.value }

// Token returns the token published on the port at the current tag, or
// nil. The port retains its reference.
func (p *Port) Token() *token.Token { return p.tok }

// SetDestructor installs the destructor applied to payloads published
// on this port.
func (p *Port) SetDestructor(d token.Destructor) { p.destructor = d }

// SetCopyConstructor installs the deep-copy function applied when a
// mutable input copies a payload published on this port.
func (p *Port) SetCopyConstructor(c token.CopyConstructor) { p.copyCtor = c }

// Set publishes a value on the port at the current tag. The value is
// carried by a fresh token; primitive values are copied by assignment,
// so the caller may reuse its variable afterwards.
func (p *Port) Set(value any) {
	rt := p.reactor.rt
	rt.mu.Lock()
	defer rt.mu.Unlock()
	tok := rt.pool.Create(p.elementSize)
	tok = rt.pool.InitializeWithValue(tok, value, 1)
	rt.publishLocked(p, tok)
}

// SetArray publishes a previously allocated array on the port without
// copying. Disposal is delegated downstream: the payload is released
// when the last holder's reference drops.
func (p *Port) SetArray(value any, length int) {
	rt := p.reactor.rt
	rt.mu.Lock()
	defer rt.mu.Unlock()
	tok := rt.pool.Create(p.elementSize)
	tok = rt.pool.InitializeWithValue(tok, value, length)
	rt.publishLocked(p, tok)
}

// SetNew allocates a zeroed payload of length elements, publishes it on
// the port, and returns it for the caller to fill. The returned slice
// aliases the published payload, which is valid because downstream
// reactions cannot run until the writing reaction's level completes.
func (p *Port) SetNew(length int) []byte {
	rt := p.reactor.rt
	rt.mu.Lock()
	defer rt.mu.Unlock()
	buf := make([]byte, length*p.elementSize)
	tok := rt.pool.Create(p.elementSize)
	tok = rt.pool.InitializeWithValue(tok, buf, length)
	rt.publishLocked(p, tok)
	return buf
}

// SetToken forwards a token obtained from an input or an action without
// copying its payload.
func (p *Port) SetToken(tok *token.Token) {
	if tok == nil {
		p.SetPresent()
		return
	}
	rt := p.reactor.rt
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.publishLocked(p, tok)
}

// SetPresent marks the port present at the current tag without
// publishing a payload.
func (p *Port) SetPresent() {
	rt := p.reactor.rt
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.publishLocked(p, nil)
}

// publishLocked marks the port present, installs the token with one
// reference per holder (the port plus each destination), and enqueues
// the reactions triggered at the current tag. Caller holds rt.mu.
func (rt *Runtime) publishLocked(p *Port, tok *token.Token) {
	if tok != nil {
		if p.destructor != nil {
			tok.SetDestructor(p.destructor)
		}
		if p.copyCtor != nil {
			tok.SetCopyConstructor(p.copyCtor)
		}
	}
	rt.presentPortLocked(p, tok)
	for _, in := range p.destinations {
		rt.presentPortLocked(in, tok)
		rt.enqueueReactionsLocked(in.reactions)
	}
	rt.enqueueReactionsLocked(p.reactions)
	rt.reactionsChanged.Broadcast()
}

// presentPortLocked installs the token on one port, replacing any value
// published earlier at the same tag.
func (rt *Runtime) presentPortLocked(p *Port, tok *token.Token) {
	if p.tok != nil && p.tok != tok {
		p.tok.DecRef()
		p.tok = nil
	}
	if !p.present {
		p.present = true
		rt.presentPorts = append(rt.presentPorts, p)
	}
	if tok != nil && p.tok != tok {
		tok.IncRef()
		p.tok = tok
	}
	if tok != nil {
		p.value = tok.Value()
	} else {
		p.value = nil
	}
}
