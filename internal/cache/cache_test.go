package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var globalPage1 = Key{Feed: "global", Page: 1}

func TestGetHonoursTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(20*time.Second, clock)

	_, ok := c.Get(globalPage1)
	assert.False(t, ok)

	c.Put(globalPage1, []byte("v1"), 0)

	clock.Advance(19 * time.Second)
	body, ok := c.Get(globalPage1)
	require.True(t, ok)
	assert.Equal(t, "v1", string(body))

	clock.Advance(time.Second)
	_, ok = c.Get(globalPage1)
	assert.False(t, ok, "entry must expire exactly at its ttl")
}

func TestPutExplicitTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(20*time.Second, clock)

	c.Put(globalPage1, []byte("short"), time.Second)
	clock.Advance(2 * time.Second)
	_, ok := c.Get(globalPage1)
	assert.False(t, ok)
}

func TestPutCopiesBody(t *testing.T) {
	c := New(time.Minute, clockwork.NewFakeClock())
	body := []byte("abc")
	c.Put(globalPage1, body, 0)
	body[0] = 'X'

	got, ok := c.Get(globalPage1)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))
}

func TestKeysAreDistinct(t *testing.T) {
	c := New(time.Minute, clockwork.NewFakeClock())
	c.Put(Key{Feed: "following", Page: 1, Viewer: "u1"}, []byte("u1"), 0)
	c.Put(Key{Feed: "following", Page: 1, Viewer: "u2"}, []byte("u2"), 0)
	c.Put(Key{Feed: "group", Selector: "cats", Page: 1}, []byte("cats"), 0)

	got, ok := c.Get(Key{Feed: "following", Page: 1, Viewer: "u2"})
	require.True(t, ok)
	assert.Equal(t, "u2", string(got))

	_, ok = c.Get(Key{Feed: "group", Selector: "cats", Page: 2})
	assert.False(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestInvalidateAll(t *testing.T) {
	c := New(time.Minute, clockwork.NewFakeClock())
	c.Put(globalPage1, []byte("v1"), 0)
	c.InvalidateAll()

	_, ok := c.Get(globalPage1)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(10*time.Second, clock)
	c.Put(Key{Feed: "global", Page: 1}, []byte("old"), 0)
	clock.Advance(5 * time.Second)
	c.Put(Key{Feed: "global", Page: 2}, []byte("new"), 0)
	clock.Advance(5 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestRunSweeper(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(time.Second, clock)
	c.Put(globalPage1, []byte("v"), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunSweeper(ctx, time.Minute)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestConcurrentAccess(t *testing.T) {
	c := New(time.Minute, clockwork.NewFakeClock())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for p := 1; p <= 50; p++ {
				k := Key{Feed: "global", Page: p}
				c.Put(k, []byte{byte(i)}, 0)
				c.Get(k)
				if p%10 == 0 {
					c.Sweep()
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}
