package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	received [][]byte
	err      error
}

func (f *fakeController) DeliverFrame(frame []byte, priority bool) error {
	if f.err != nil {
		return f.err
	}
	f.received = append(f.received, frame)
	return nil
}

func TestDeliver_ToRegisteredConnection(t *testing.T) {
	r := New()
	c := &fakeController{}
	r.Register("conn-1", c)

	ok, err := r.Deliver("conn-1", []byte("hello"), false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("hello")}, c.received)
}

func TestDeliver_PeerGone(t *testing.T) {
	r := New()

	ok, err := r.Deliver("conn-missing", []byte("hello"), false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnregister_OnlyRemovesMatchingEntry(t *testing.T) {
	r := New()
	c1 := &fakeController{}
	c2 := &fakeController{}

	r.Register("conn-1", c1)
	r.Register("conn-1", c2) // reconnect replaces the entry

	r.Unregister("conn-1", c1) // stale handle to the old controller
	ok, _ := r.Deliver("conn-1", []byte("x"), false)
	assert.True(t, ok, "newer registration must survive an unregister from a stale controller")

	r.Unregister("conn-1", c2)
	ok, _ = r.Deliver("conn-1", []byte("x"), false)
	assert.False(t, ok)
}

func TestLen(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.Len())

	r.Register("conn-1", &fakeController{})
	r.Register("conn-2", &fakeController{})
	assert.Equal(t, 2, r.Len())
}
