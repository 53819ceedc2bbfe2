package presence

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind     string
	id       jid.ID
	priority int8
}

type recordingListener struct {
	mu     sync.Mutex
	events []event
}

func (l *recordingListener) Added(id jid.ID, r Resource) {
	l.record("added", id, r)
}

func (l *recordingListener) Updated(id jid.ID, r Resource, _ Resource) {
	l.record("updated", id, r)
}

func (l *recordingListener) Removed(id jid.ID, r Resource) {
	l.record("removed", id, r)
}

func (l *recordingListener) record(kind string, id jid.ID, r Resource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event{kind: kind, id: id, priority: r.Priority})
}

func (l *recordingListener) snapshot() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]event(nil), l.events...)
}

type panickingListener struct{}

func (panickingListener) Added(jid.ID, Resource)             { panic("boom") }
func (panickingListener) Updated(jid.ID, Resource, Resource) { panic("boom") }
func (panickingListener) Removed(jid.ID, Resource)           { panic("boom") }

func TestMemoryDirectoryGet(t *testing.T) {
	d := NewMemoryDirectory()
	phone := jid.MustParse("alice@example.org/phone")
	laptop := jid.MustParse("alice@example.org/laptop")
	require.NoError(t, d.Put(Resource{ID: phone, Priority: 1}))
	require.NoError(t, d.Put(Resource{ID: laptop, Priority: 5}))

	ctx := context.Background()

	t.Run("general form expands to every resource", func(t *testing.T) {
		got, err := d.Get(ctx, phone.GeneralForm())
		require.NoError(t, err)
		assert.Equal(t, []jid.ID{laptop, phone}, got.Keys())
	})

	t.Run("full form returns exact match", func(t *testing.T) {
		got, err := d.Get(ctx, phone)
		require.NoError(t, err)
		require.Equal(t, 1, got.Len())
		r, ok := got.Get(phone)
		require.True(t, ok)
		assert.Equal(t, int8(1), r.Priority)
	})

	t.Run("full form without match is empty", func(t *testing.T) {
		got, err := d.Get(ctx, phone.GeneralForm().WithResource("tablet"))
		require.NoError(t, err)
		assert.True(t, got.IsEmpty())
	})

	t.Run("unknown owner is empty", func(t *testing.T) {
		got, err := d.Get(ctx, jid.MustParse("bob@example.org"))
		require.NoError(t, err)
		assert.True(t, got.IsEmpty())
	})
}

func TestMemoryDirectoryRejectsGeneralFormResource(t *testing.T) {
	d := NewMemoryDirectory()
	err := d.Put(Resource{ID: jid.MustParse("alice@example.org")})
	assert.Error(t, err)
}

func TestMemoryDirectoryNotifications(t *testing.T) {
	d := NewMemoryDirectory()
	l := &recordingListener{}
	cancel := d.Subscribe(l)

	phone := jid.MustParse("alice@example.org/phone")
	require.NoError(t, d.Put(Resource{ID: phone}))
	require.NoError(t, d.Put(Resource{ID: phone, Priority: 3}))
	assert.True(t, d.Remove(phone))
	assert.False(t, d.Remove(phone))

	assert.Equal(t, []event{
		{kind: "added", id: phone, priority: 0},
		{kind: "updated", id: phone, priority: 3},
		{kind: "removed", id: phone, priority: 3},
	}, l.snapshot())
	assert.Equal(t, 0, d.Len())

	cancel()
	require.NoError(t, d.Put(Resource{ID: phone}))
	assert.Len(t, l.snapshot(), 3)
}

func TestMemoryDirectoryPanickingListenerDoesNotBreakOthers(t *testing.T) {
	d := NewMemoryDirectory()
	d.Subscribe(panickingListener{})
	l := &recordingListener{}
	d.Subscribe(l)

	phone := jid.MustParse("alice@example.org/phone")
	assert.NotPanics(t, func() {
		require.NoError(t, d.Put(Resource{ID: phone}))
	})
	assert.Len(t, l.snapshot(), 1)
}

func TestMemoryDirectoryConcurrentAccess(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := jid.MustParse(fmt.Sprintf("user%d@example.org", i%2))
			for j := 0; j < 100; j++ {
				id := owner.WithResource(fmt.Sprintf("r%d-%d", i, j%5))
				_ = d.Put(Resource{ID: id, Priority: int8(j % 3)})
				_, err := d.Get(ctx, owner)
				assert.NoError(t, err)
				if j%4 == 0 {
					d.Remove(id)
				}
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, owner := range []string{"user0@example.org", "user1@example.org"} {
		got, err := d.Get(ctx, jid.MustParse(owner))
		require.NoError(t, err)
		total += got.Len()
	}
	assert.Equal(t, total, d.Len())
}

func TestMemoryDirectoryGetHonoursContext(t *testing.T) {
	d := NewMemoryDirectory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Get(ctx, jid.MustParse("alice@example.org"))
	assert.ErrorIs(t, err, context.Canceled)
}
