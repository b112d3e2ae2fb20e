// Package registry resolves vendor identifiers to vendor adapters.
//
// The vendor set is closed: adapters are registered at construction and
// lookups never create entries. Identifiers match case-insensitively and
// otherwise exactly.
package registry

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/robot-control/rgw/internal/adapter"
	"github.com/robot-control/rgw/internal/model"
)

// ResolutionError reports a vendor identifier with no registered adapter.
type ResolutionError struct {
	VendorID string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unsupported vendor %q", e.VendorID)
}

// Is matches model.ErrUnsupportedVendor.
func (e *ResolutionError) Is(target error) bool {
	return target == model.ErrUnsupportedVendor
}

// VendorInfo describes one registered vendor for listings.
type VendorInfo struct {
	ID           string               `json:"id"`
	Capabilities adapter.Capabilities `json:"capabilities"`
}

// Registry maps normalized vendor identifiers to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapter.VendorAdapter
}

// New creates a registry holding the given adapters.
func New(adapters ...adapter.VendorAdapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]adapter.VendorAdapter)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter under its vendor identifier.
func (r *Registry) Register(a adapter.VendorAdapter) error {
	if a == nil {
		return errors.New("adapter must not be nil")
	}
	key := normalize(a.Vendor())
	if strings.TrimSpace(key) == "" {
		return errors.New("adapter vendor identifier must not be empty")
	}
	if strings.TrimSpace(key) != key {
		return fmt.Errorf("adapter vendor identifier %q has surrounding whitespace", a.Vendor())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[key]; exists {
		return fmt.Errorf("vendor %s is already registered", key)
	}
	r.adapters[key] = a
	return nil
}

// Resolve returns the adapter for vendorID.
func (r *Registry) Resolve(vendorID string) (adapter.VendorAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[normalize(vendorID)]
	if !ok {
		return nil, &ResolutionError{VendorID: vendorID}
	}
	return a, nil
}

// Vendors returns the registered identifiers in sorted order.
func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Describe lists every vendor with its capabilities, sorted by identifier.
func (r *Registry) Describe() []VendorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]VendorInfo, 0, len(r.adapters))
	for id, a := range r.adapters {
		out = append(out, VendorInfo{ID: id, Capabilities: a.Capabilities()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close releases adapter resources.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for id, a := range r.adapters {
		if c, ok := a.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}

func normalize(vendorID string) string {
	return strings.ToLower(vendorID)
}
