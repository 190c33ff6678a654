package syncengine

import "sync/atomic"

// DirtyTracker is set by confirmed mutations and cleared when a version is archived.
type DirtyTracker struct {
	dirty atomic.Bool
}

func (d *DirtyTracker) Set()          { d.dirty.Store(true) }
func (d *DirtyTracker) Clear()        { d.dirty.Store(false) }
func (d *DirtyTracker) IsDirty() bool { return d.dirty.Load() }
