package asset

import "sort"

// Bag maps each resource to at most one container.
type Bag map[ResourceAddress]*Bucket

// Group collects caller containers by resource. The first container seen for
// a resource becomes the bag's entry and later ones are merged into it, so
// leftovers come back in the caller's own containers.
func Group(buckets []*Bucket) (Bag, error) {
	bag := make(Bag, len(buckets))
	for _, b := range buckets {
		if b == nil {
			continue
		}
		existing, ok := bag[b.resource]
		if !ok {
			bag[b.resource] = b
			continue
		}
		if err := existing.Put(b); err != nil {
			return nil, err
		}
	}
	return bag, nil
}

// Put moves the contents of b into the bag's own container for that resource,
// creating it on first use. The bag never aliases b.
func (g Bag) Put(b *Bucket) error {
	if b == nil {
		return nil
	}
	vault, ok := g[b.resource]
	if !ok {
		vault = Empty(b.resource, b.kind)
		g[b.resource] = vault
	}
	return vault.Put(b)
}

// Buckets returns the containers ordered by resource address.
func (g Bag) Buckets() []*Bucket {
	keys := make([]ResourceAddress, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]*Bucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, g[k])
	}
	return out
}

// TakeAll drains every container, skipping empty ones.
func (g Bag) TakeAll() []*Bucket {
	var out []*Bucket
	for _, b := range g.Buckets() {
		if b.IsEmpty() {
			continue
		}
		out = append(out, b.TakeAll())
	}
	return out
}

// Clone deep-copies the bag.
func (g Bag) Clone() Bag {
	out := make(Bag, len(g))
	for k, b := range g {
		out[k] = b.Clone()
	}
	return out
}

// IsEmpty reports whether every container is empty.
func (g Bag) IsEmpty() bool {
	for _, b := range g {
		if !b.IsEmpty() {
			return false
		}
	}
	return true
}
