package memory

import (
	"context"
	"sync"

	"github.com/safescope/monitor/internal/monitor"
)

// ParentDirectory maps child emails to parent emails in memory.
// The index is built once from a parent-to-children roster, so lookups are
// O(1) while the one-child-one-parent invariant stays explicit.
type ParentDirectory struct {
	mu      sync.RWMutex
	parents map[string]string
}

// NewParentDirectory builds a directory from a parent -> children roster.
// A child listed under multiple parents keeps the first association.
func NewParentDirectory(roster map[string][]string) *ParentDirectory {
	index := make(map[string]string)
	for parent, children := range roster {
		for _, child := range children {
			if _, taken := index[child]; taken {
				continue
			}
			index[child] = parent
		}
	}
	return &ParentDirectory{parents: index}
}

// ParentOf returns the parent email for a child, or monitor.ErrNoParent.
func (d *ParentDirectory) ParentOf(_ context.Context, childEmail string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	parent, ok := d.parents[childEmail]
	if !ok {
		return "", monitor.ErrNoParent
	}
	return parent, nil
}

// Associate adds or moves a child under the given parent.
func (d *ParentDirectory) Associate(childEmail, parentEmail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parents[childEmail] = parentEmail
}
