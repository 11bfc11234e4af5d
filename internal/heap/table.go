package heap

import "sync"

// Record attributes one live allocation to its owning domain.
type Record struct {
	Domain DomainID
	Addr   Address
	Layout Layout
}

// Usage summarises the records owned by one domain.
type Usage struct {
	Objects int     `json:"objects"`
	Bytes   uintptr `json:"bytes"`
}

// Table is the global attribution ledger. Records are indexed by owning
// domain and, for lookups, by address. All methods take the table lock.
type Table struct {
	mu       sync.Mutex
	byDomain map[DomainID]map[Address]Layout
	owner    map[Address]DomainID
}

// NewTable creates an empty attribution table.
func NewTable() *Table {
	return &Table{
		byDomain: make(map[DomainID]map[Address]Layout),
		owner:    make(map[Address]DomainID),
	}
}

// Insert records addr as owned by domain.
func (t *Table) Insert(domain DomainID, addr Address, layout Layout) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertLocked(domain, addr, layout)
}

func (t *Table) insertLocked(domain DomainID, addr Address, layout Layout) {
	records, ok := t.byDomain[domain]
	if !ok {
		records = make(map[Address]Layout)
		t.byDomain[domain] = records
	}
	records[addr] = layout
	t.owner[addr] = domain
}

// Remove deletes the record iff domain, addr and layout all match.
// It reports whether a record was removed; free runs under the table lock
// before the record disappears from view.
func (t *Table) Remove(domain DomainID, addr Address, layout Layout, free func(Address, Layout)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.matchLocked(domain, addr, layout) {
		return false
	}
	if free != nil {
		free(addr, layout)
	}
	t.deleteLocked(domain, addr)
	return true
}

// Retag moves the record from one domain to another iff it matches exactly.
func (t *Table) Retag(from, to DomainID, addr Address, layout Layout) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.matchLocked(from, addr, layout) {
		return false
	}
	t.deleteLocked(from, addr)
	t.insertLocked(to, addr, layout)
	return true
}

// RemoveDomain deletes every record owned by domain, calling free for each,
// and returns what was removed.
func (t *Table) RemoveDomain(domain DomainID, free func(Address, Layout)) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	records := t.byDomain[domain]
	if len(records) == 0 {
		delete(t.byDomain, domain)
		return nil
	}

	removed := make([]Record, 0, len(records))
	for addr, layout := range records {
		if free != nil {
			free(addr, layout)
		}
		delete(t.owner, addr)
		removed = append(removed, Record{Domain: domain, Addr: addr, Layout: layout})
	}
	delete(t.byDomain, domain)
	return removed
}

// Lookup returns the record for addr.
func (t *Table) Lookup(addr Address) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	domain, ok := t.owner[addr]
	if !ok {
		return Record{}, false
	}
	return Record{Domain: domain, Addr: addr, Layout: t.byDomain[domain][addr]}, true
}

// Records returns a copy of the records owned by domain.
func (t *Table) Records(domain DomainID) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	records := t.byDomain[domain]
	out := make([]Record, 0, len(records))
	for addr, layout := range records {
		out = append(out, Record{Domain: domain, Addr: addr, Layout: layout})
	}
	return out
}

// Len returns the number of live records.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owner)
}

// Usage returns per-domain object and byte counts.
func (t *Table) Usage() map[DomainID]Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[DomainID]Usage, len(t.byDomain))
	for domain, records := range t.byDomain {
		var u Usage
		for _, layout := range records {
			u.Objects++
			u.Bytes += layout.Size
		}
		out[domain] = u
	}
	return out
}

func (t *Table) matchLocked(domain DomainID, addr Address, layout Layout) bool {
	l, ok := t.byDomain[domain][addr]
	return ok && l == layout
}

func (t *Table) deleteLocked(domain DomainID, addr Address) {
	records := t.byDomain[domain]
	delete(records, addr)
	if len(records) == 0 {
		delete(t.byDomain, domain)
	}
	delete(t.owner, addr)
}
