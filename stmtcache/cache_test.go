package stmtcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(2, nil)
	d := &Descriptor{StatementID: 1, SQL: "SELECT 1"}
	c.Put("SELECT 1", d)

	got, ok := c.Get("SELECT 1")
	assert.True(t, ok)
	assert.Equal(t, d, got)
	assert.True(t, d.Cached)
}

func TestGetMiss(t *testing.T) {
	c := New(2, nil)
	_, ok := c.Get("SELECT 1")
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	var closed []uint32
	c := New(2, func(id uint32) error {
		closed = append(closed, id)
		return nil
	})

	c.Put("A", &Descriptor{StatementID: 1})
	c.Put("B", &Descriptor{StatementID: 2})
	// touch A so B becomes least-recently-used
	c.Get("A")
	c.Put("C", &Descriptor{StatementID: 3})

	assert.Equal(t, []uint32{2}, closed)
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("B")
	assert.False(t, ok)
}

func TestPutExistingKeepsOriginalAndUnCachesNew(t *testing.T) {
	var closed []uint32
	c := New(4, func(id uint32) error {
		closed = append(closed, id)
		return nil
	})

	original := &Descriptor{StatementID: 1}
	c.Put("SELECT 1", original)

	duplicate := &Descriptor{StatementID: 2}
	got := c.Put("SELECT 1", duplicate)

	assert.Same(t, original, got)
	assert.False(t, duplicate.Cached)
	assert.Equal(t, []uint32{2}, closed)
}

func TestRemoveDoesNotCallClose(t *testing.T) {
	called := false
	c := New(4, func(id uint32) error {
		called = true
		return nil
	})
	d := &Descriptor{StatementID: 1}
	c.Put("SELECT 1", d)
	c.Remove("SELECT 1")

	assert.False(t, called)
	assert.False(t, d.Cached)
	_, ok := c.Get("SELECT 1")
	assert.False(t, ok)
}

func TestUnCacheSkipsCloseWhenClosing(t *testing.T) {
	called := false
	c := New(1, func(id uint32) error {
		called = true
		return nil
	})
	d := &Descriptor{StatementID: 1, Closing: true}
	c.Put("A", d)
	c.Put("B", &Descriptor{StatementID: 2})

	assert.False(t, called)
}

func TestDefaultCapacityUsedWhenNonPositive(t *testing.T) {
	c := New(0, nil)
	for i := 0; i < DefaultCapacity+5; i++ {
		c.Put(string(rune(i)), &Descriptor{StatementID: uint32(i)})
	}
	assert.Equal(t, DefaultCapacity, c.Len())
}
