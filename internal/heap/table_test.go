package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableRemoveRequiresExactMatch(t *testing.T) {
	layout := Layout{Size: 32, Align: 8}

	tests := []struct {
		name    string
		domain  DomainID
		addr    Address
		layout  Layout
		removed bool
	}{
		{name: "exact match", domain: 1, addr: 0x2000, layout: layout, removed: true},
		{name: "wrong domain", domain: 2, addr: 0x2000, layout: layout},
		{name: "wrong address", domain: 1, addr: 0x2008, layout: layout},
		{name: "wrong size", domain: 1, addr: 0x2000, layout: Layout{Size: 16, Align: 8}},
		{name: "wrong alignment", domain: 1, addr: 0x2000, layout: Layout{Size: 32, Align: 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable()
			table.Insert(1, 0x2000, layout)

			freed := 0
			got := table.Remove(tt.domain, tt.addr, tt.layout, func(Address, Layout) { freed++ })

			assert.Equal(t, tt.removed, got)
			if tt.removed {
				assert.Equal(t, 1, freed)
				assert.Equal(t, 0, table.Len())
			} else {
				assert.Zero(t, freed)
				rec, ok := table.Lookup(0x2000)
				require.True(t, ok)
				assert.Equal(t, Record{Domain: 1, Addr: 0x2000, Layout: layout}, rec)
			}
		})
	}
}

func TestTableRetag(t *testing.T) {
	table := NewTable()
	layout := Layout{Size: 8, Align: 8}
	table.Insert(1, 0x3000, layout)

	assert.False(t, table.Retag(2, 3, 0x3000, layout), "retag from a non-owner must fail")
	assert.True(t, table.Retag(1, 2, 0x3000, layout))

	rec, ok := table.Lookup(0x3000)
	require.True(t, ok)
	assert.Equal(t, DomainID(2), rec.Domain)
	assert.Empty(t, table.Records(1))
	assert.Len(t, table.Records(2), 1)

	// the old owner can no longer free it
	assert.False(t, table.Remove(1, 0x3000, layout, nil))
	assert.True(t, table.Remove(2, 0x3000, layout, nil))
}

func TestTableRemoveDomainLeavesOthers(t *testing.T) {
	table := NewTable()
	layout := Layout{Size: 16, Align: 8}

	// interleave allocations of three domains
	var addr Address = 0x1000
	owners := []DomainID{1, 2, 1, 3, 2, 1, 3}
	for _, d := range owners {
		table.Insert(d, addr, layout)
		addr += 0x10
	}

	var freed []Address
	removed := table.RemoveDomain(1, func(a Address, _ Layout) { freed = append(freed, a) })

	assert.Len(t, removed, 3)
	assert.ElementsMatch(t, []Address{0x1000, 0x1020, 0x1050}, freed)
	for _, r := range removed {
		assert.Equal(t, DomainID(1), r.Domain)
	}

	usage := table.Usage()
	assert.NotContains(t, usage, DomainID(1))
	assert.Equal(t, Usage{Objects: 2, Bytes: 32}, usage[2])
	assert.Equal(t, Usage{Objects: 2, Bytes: 32}, usage[3])
	assert.Equal(t, 4, table.Len())

	assert.Nil(t, table.RemoveDomain(1, nil), "second sweep finds nothing")
}
