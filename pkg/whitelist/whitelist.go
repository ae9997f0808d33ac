// Package whitelist provides the vendor/product access policy that decides
// which device models backends may surface. The list is persisted as YAML so
// it can be hand-edited alongside the rest of the configuration.
package whitelist

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Entry identifies one permitted device model.
type Entry struct {
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`
}

// List is a concurrency-safe whitelist of device models. The zero value
// permits nothing; use AllowAll for a permit-everything policy.
type List struct {
	mu      sync.RWMutex
	entries []Entry
}

// New returns a List seeded with the given entries.
func New(entries ...Entry) *List {
	l := &List{}
	for _, e := range entries {
		l.Add(e.VendorID, e.ProductID)
	}
	return l
}

// Load reads a whitelist from a YAML file. A missing file yields an empty
// list rather than an error, so a fresh installation starts closed.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &List{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading whitelist: %w", err)
	}

	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing whitelist: %w", err)
	}
	return New(entries...), nil
}

// Save writes the whitelist to a YAML file.
func (l *List) Save(path string) error {
	data, err := yaml.Marshal(l.Entries())
	if err != nil {
		return fmt.Errorf("encoding whitelist: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing whitelist: %w", err)
	}
	return nil
}

// Add permits a device model. Adding an already-permitted model is a no-op.
func (l *List) Add(vendorID, productID uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.VendorID == vendorID && e.ProductID == productID {
			return
		}
	}
	l.entries = append(l.entries, Entry{VendorID: vendorID, ProductID: productID})
}

// Remove withdraws permission for a device model. Removing an absent model is
// a no-op.
func (l *List) Remove(vendorID, productID uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.VendorID == vendorID && e.ProductID == productID {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// Allowed reports whether the device model is permitted.
func (l *List) Allowed(vendorID, productID uint16) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.VendorID == vendorID && e.ProductID == productID {
			return true
		}
	}
	return false
}

// Entries returns a snapshot of the permitted device models.
func (l *List) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// AllowAll is a policy that permits every device model.
type AllowAll struct{}

// Allowed always returns true.
func (AllowAll) Allowed(vendorID, productID uint16) bool { return true }
