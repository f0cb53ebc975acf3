package tensor

import "sync/atomic"

var (
	liveBuffers     atomic.Int64
	releasedBuffers atomic.Int64
)

// MemoryInfo is a snapshot of buffer accounting across all backends.
type MemoryInfo struct {
	Live     int64
	Released int64
}

// Memory reports how many buffers are currently allocated and how many have
// been released since process start. It is meant for diagnostics and leak
// tests; nothing in the release path consults it.
func Memory() MemoryInfo {
	return MemoryInfo{
		Live:     liveBuffers.Load(),
		Released: releasedBuffers.Load(),
	}
}

// Guard makes a buffer's release one-shot and keeps the live count honest.
// Embed it in a Handle implementation, call Open once the buffer exists and
// route Dispose through Close.
type Guard struct {
	opened   atomic.Bool
	disposed atomic.Bool
}

func (g *Guard) Open() {
	if g.opened.CompareAndSwap(false, true) {
		liveBuffers.Add(1)
	}
}

// Close runs release the first time it is called and is a no-op afterwards.
func (g *Guard) Close(release func() error) error {
	if !g.disposed.CompareAndSwap(false, true) {
		return nil
	}
	if g.opened.Load() {
		liveBuffers.Add(-1)
		releasedBuffers.Add(1)
	}
	if release == nil {
		return nil
	}
	return release()
}

func (g *Guard) Disposed() bool {
	return g.disposed.Load()
}
