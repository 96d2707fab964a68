package media

import (
	"context"
	"sync"
)

type poolEntry struct {
	src  *Source
	refs int
}

// Pool shares one Source per file between every clip that references it.
// A source is closed when its last reference is released.
type Pool struct {
	mu      sync.Mutex
	opener  *Opener
	entries map[string]*poolEntry
	open    func(ctx context.Context, path string) (*Source, error)
}

// NewPool creates a pool backed by opener
func NewPool(opener *Opener) *Pool {
	return &Pool{
		opener:  opener,
		entries: make(map[string]*poolEntry),
		open:    opener.Open,
	}
}

// NewPoolWithOpenFunc creates a pool with a custom open function
func NewPoolWithOpenFunc(open func(ctx context.Context, path string) (*Source, error)) *Pool {
	return &Pool{entries: make(map[string]*poolEntry), open: open}
}

// Acquire returns the shared source for path, opening it on first reference
func (p *Pool) Acquire(ctx context.Context, path string) (*Source, error) {
	key, err := Canonical(path)
	if err != nil {
		key = path
	}

	p.mu.Lock()
	if e, ok := p.entries[key]; ok && e.src.IsValid() {
		e.refs++
		p.mu.Unlock()
		return e.src, nil
	}
	p.mu.Unlock()

	// open outside the lock; a concurrent acquire may win the race
	src, err := p.open(ctx, key)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok && e.src.IsValid() {
		e.refs++
		_ = src.Close()
		return e.src, nil
	}
	// an invalid source is replaced; its holders close it on release
	p.entries[key] = &poolEntry{src: src, refs: 1}
	return src, nil
}

// Release drops one reference to src
func (p *Pool) Release(src *Source) {
	if src == nil {
		return
	}

	p.mu.Lock()
	var closeSrc bool
	e, ok := p.entries[src.Path()]
	switch {
	case ok && e.src == src:
		e.refs--
		if e.refs <= 0 {
			delete(p.entries, src.Path())
			closeSrc = true
		}
	default:
		// not pooled, or replaced after going invalid
		closeSrc = true
	}
	p.mu.Unlock()

	if closeSrc {
		_ = src.Close()
	}
}

// Refs returns the number of live references to path
func (p *Pool) Refs(path string) int {
	key, err := Canonical(path)
	if err != nil {
		key = path
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e.refs
	}
	return 0
}

// Len returns the number of open sources
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close closes every pooled source
func (p *Pool) Close() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	for _, e := range entries {
		_ = e.src.Close()
	}
}
