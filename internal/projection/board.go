package projection

import (
	"sync"
)

// Snapshot is a consistent copy of every region on a board.
type Snapshot struct {
	Version uint64          `json:"version"`
	Writes  uint64          `json:"-"`
	Regions map[Region]View `json:"regions"`
}

// View returns the view for region, or the hidden view when it was never written.
func (s Snapshot) View(region Region) View {
	return s.Regions[region]
}

// Board is an in-memory Projector served to the browser. Version only advances when a
// write changes what a region renders, so redundant refreshes are observable as no-ops.
type Board struct {
	mu      sync.RWMutex
	regions map[Region]View
	version uint64
	writes  uint64

	ready     chan struct{}
	readyOnce sync.Once

	listeners []func(Region, View)
}

// NewBoard returns an empty board that is not yet ready.
func NewBoard() *Board {
	return &Board{
		regions: make(map[Region]View, len(Regions)),
		ready:   make(chan struct{}),
	}
}

// NewReadyBoard returns a board whose ready signal has already fired.
func NewReadyBoard() *Board {
	b := NewBoard()
	b.MarkReady()
	return b
}

// Write replaces the view of region.
func (b *Board) Write(region Region, view View) {
	if len(view.Lines) > 0 {
		view.Lines = append([]Line(nil), view.Lines...)
	}

	b.mu.Lock()
	b.writes++
	current, ok := b.regions[region]
	changed := !ok || !current.Equal(view)
	if changed {
		b.regions[region] = view
		b.version++
	}
	listeners := b.listeners
	b.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(region, view)
		}
	}
}

// Ready is closed once MarkReady has been called.
func (b *Board) Ready() <-chan struct{} { return b.ready }

// MarkReady resolves the one-shot ready signal. Later calls are no-ops.
func (b *Board) MarkReady() {
	b.readyOnce.Do(func() { close(b.ready) })
}

// IsReady reports whether the ready signal fired.
func (b *Board) IsReady() bool {
	select {
	case <-b.ready:
		return true
	default:
		return false
	}
}

// OnChange registers fn to be called after each write that changes a region.
func (b *Board) OnChange(fn func(Region, View)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(append([]func(Region, View){}, b.listeners...), fn)
	b.mu.Unlock()
}

// Snapshot copies the current board state.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	regions := make(map[Region]View, len(b.regions))
	for region, view := range b.regions {
		if len(view.Lines) > 0 {
			view.Lines = append([]Line(nil), view.Lines...)
		}
		regions[region] = view
	}
	return Snapshot{Version: b.version, Writes: b.writes, Regions: regions}
}

// Version returns the change counter.
func (b *Board) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}
