package cache

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// counter returns a CreateFunc which counts its calls and fails for
// the key "bad"
func counter() (CreateFunc[string], *int) {
	calls := 0
	return func(key string) (string, error) {
		calls++
		if key == "bad" {
			return "", errBoom
		}
		return "value of " + key, nil
	}, &calls
}

func TestGetCreatesOnce(t *testing.T) {
	c := New[string]()
	create, calls := counter()

	v, err := c.Get("a", create)
	require.NoError(t, err)
	assert.Equal(t, "value of a", v)
	v, err = c.Get("a", create)
	require.NoError(t, err)
	assert.Equal(t, "value of a", v)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, c.Entries())
}

func TestGetErrorNotCached(t *testing.T) {
	c := New[string]()
	create, calls := counter()

	_, err := c.Get("bad", create)
	assert.Equal(t, errBoom, err)
	_, err = c.Get("bad", create)
	assert.Equal(t, errBoom, err)
	assert.Equal(t, 2, *calls)
	assert.Equal(t, 0, c.Entries())
}

func TestGetFirstStoredWins(t *testing.T) {
	c := New[string]()
	v, err := c.Get("k", func(key string) (string, error) {
		// another caller got there first
		c.Put(key, "first")
		return "second", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestGetMaybeAndPut(t *testing.T) {
	c := New[int]()
	_, found := c.GetMaybe("x")
	assert.False(t, found)
	c.Put("x", 42)
	v, found := c.GetMaybe("x")
	assert.True(t, found)
	assert.Equal(t, 42, v)
}

func TestNoCache(t *testing.T) {
	c := New[string]().SetExpireDuration(0)
	create, calls := counter()
	_, err := c.Get("a", create)
	require.NoError(t, err)
	_, err = c.Get("a", create)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
	c.Put("b", "b")
	assert.Equal(t, 0, c.Entries())
}

type removal struct {
	key, value, reason string
}

// recorder returns a finalizer which records what it is given and a
// func returning the records sorted by key
func recorder() (func(string, string, string), func() []removal) {
	var mu sync.Mutex
	var got []removal
	finalize := func(key, value, reason string) {
		mu.Lock()
		got = append(got, removal{key, value, reason})
		mu.Unlock()
	}
	removed := func() []removal {
		mu.Lock()
		defer mu.Unlock()
		out := append([]removal(nil), got...)
		sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
		return out
	}
	return finalize, removed
}

func TestDelete(t *testing.T) {
	finalize, removed := recorder()
	c := New[string]().SetFinalizer(finalize)
	c.Put("a", "1")
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, []removal{{"a", "1", ReasonDeleted}}, removed())
}

func TestDeleteFunc(t *testing.T) {
	finalize, removed := recorder()
	c := New[string]().SetFinalizer(finalize)
	c.Put("keep", "k")
	c.Put("drop1", "x")
	c.Put("drop2", "x")

	keys := c.DeleteFunc(func(key, value string) bool { return value == "x" })
	sort.Strings(keys)
	assert.Equal(t, []string{"drop1", "drop2"}, keys)
	assert.Equal(t, 1, c.Entries())
	assert.Equal(t, []removal{{"drop1", "x", ReasonDeleted}, {"drop2", "x", ReasonDeleted}}, removed())
}

func TestClear(t *testing.T) {
	finalize, removed := recorder()
	c := New[string]().SetFinalizer(finalize)
	c.Put("a", "1")
	c.Put("b", "2")
	c.Clear()
	assert.Equal(t, 0, c.Entries())
	assert.Equal(t, []removal{{"a", "1", ReasonCleared}, {"b", "2", ReasonCleared}}, removed())
}

func TestExpire(t *testing.T) {
	finalize, removed := recorder()
	c := New[string]().
		SetExpireDuration(20 * time.Millisecond).
		SetExpireInterval(10 * time.Millisecond).
		SetFinalizer(finalize)
	c.Put("a", "1")
	assert.Eventually(t, func() bool { return len(removed()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.Entries())
	assert.Equal(t, []removal{{"a", "1", ReasonExpired}}, removed())
}

func TestPinnedEntriesDoNotExpire(t *testing.T) {
	c := New[string]().
		SetExpireDuration(10 * time.Millisecond).
		SetExpireInterval(5 * time.Millisecond)
	c.Put("a", "1")
	v, unpin, found := c.PinMaybe("a")
	require.True(t, found)
	assert.Equal(t, "1", v)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, c.Entries())

	unpin()
	unpin() // only the first call counts
	assert.Eventually(t, func() bool { return c.Entries() == 0 }, time.Second, 5*time.Millisecond)

	// pinning something absent does nothing
	_, unpin, found = c.PinMaybe("missing")
	assert.False(t, found)
	unpin()
	assert.Equal(t, 0, c.Entries())
}

func TestUnpinAfterReplace(t *testing.T) {
	c := New[string]().
		SetExpireDuration(10 * time.Millisecond).
		SetExpireInterval(5 * time.Millisecond)
	c.Put("a", "old")
	_, unpinOld, found := c.PinMaybe("a")
	require.True(t, found)

	// replaced while pinned, then pinned again
	c.Delete("a")
	c.Put("a", "new")
	_, unpinNew, found := c.PinMaybe("a")
	require.True(t, found)

	// releasing the old pin leaves the new entry pinned
	unpinOld()
	time.Sleep(50 * time.Millisecond)
	v, found := c.GetMaybe("a")
	require.True(t, found)
	assert.Equal(t, "new", v)

	unpinNew()
	assert.Eventually(t, func() bool { return c.Entries() == 0 }, time.Second, 5*time.Millisecond)
}
