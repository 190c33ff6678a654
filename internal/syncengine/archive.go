package syncengine

import (
	"context"
	"errors"
	"sync"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

// VersionArchive mirrors the durable version list, newest first, bounded by
// the configured capacity.
type VersionArchive struct {
	remote Remote

	// createMu serializes Create so two snapshots cannot race each other.
	createMu sync.Mutex

	mu       sync.RWMutex
	versions []catalog.Version
	capacity int
}

func NewVersionArchive(remote Remote, capacity int) *VersionArchive {
	if capacity < 1 {
		capacity = catalog.DefaultSettings().MaxVersions
	}
	return &VersionArchive{remote: remote, capacity: capacity}
}

// Create archives an independent copy of state under label.
func (a *VersionArchive) Create(ctx context.Context, state catalog.AppState, label string) (catalog.Version, error) {
	a.createMu.Lock()
	defer a.createMu.Unlock()

	version, err := a.remote.CreateVersion(ctx, label, state.Clone())
	if err != nil {
		return catalog.Version{}, newMutationError("create-version", ErrRemoteFailure, err)
	}
	version.Data = version.Data.Clone()

	a.mu.Lock()
	next := make([]catalog.Version, 0, len(a.versions)+1)
	next = append(next, version)
	for _, v := range a.versions {
		if v.ID != version.ID {
			next = append(next, v)
		}
	}
	a.versions = trimArchive(next, a.capacity)
	a.mu.Unlock()
	return cloneVersion(version), nil
}

// List returns the cached archive.
func (a *VersionArchive) List() []catalog.Version {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]catalog.Version, len(a.versions))
	for i, v := range a.versions {
		out[i] = cloneVersion(v)
	}
	return out
}

func (a *VersionArchive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.versions)
}

// Get looks id up in the cached archive.
func (a *VersionArchive) Get(id string) (catalog.Version, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, v := range a.versions {
		if v.ID == id {
			return cloneVersion(v), nil
		}
	}
	return catalog.Version{}, newMutationError("get-version", ErrNotFound, catalog.ErrNotFound)
}

// Reload replaces the cache with the durable list.
func (a *VersionArchive) Reload(ctx context.Context) error {
	versions, err := a.remote.FetchVersions(ctx)
	if err != nil {
		return newMutationError("fetch-versions", ErrRemoteFailure, err)
	}
	a.mu.Lock()
	a.versions = trimArchive(versions, a.capacity)
	a.mu.Unlock()
	return nil
}

func (a *VersionArchive) Delete(ctx context.Context, id string) error {
	if err := a.remote.DeleteVersion(ctx, id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return newMutationError("delete-version", ErrNotFound, err)
		}
		return newMutationError("delete-version", ErrRemoteFailure, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, v := range a.versions {
		if v.ID == id {
			a.versions = append(a.versions[:i:i], a.versions[i+1:]...)
			break
		}
	}
	return nil
}

// SetCapacity evicts the oldest cached entries beyond capacity.
func (a *VersionArchive) SetCapacity(capacity int) {
	if capacity < 1 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capacity = capacity
	a.versions = trimArchive(a.versions, capacity)
}

func (a *VersionArchive) Capacity() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.capacity
}

func trimArchive(versions []catalog.Version, capacity int) []catalog.Version {
	if len(versions) <= capacity {
		return versions
	}
	return versions[:capacity]
}

func cloneVersion(v catalog.Version) catalog.Version {
	v.Data = v.Data.Clone()
	return v
}
