package offline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner  = jid.MustParse("alice@example.org")
	sender = jid.MustParse("bob@example.org/desk")
)

type storeFactory func(t *testing.T, maxPerOwner int) Storage

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, maxPerOwner int) Storage {
			return NewMemoryStore(maxPerOwner)
		},
		"sqlite": func(t *testing.T, maxPerOwner int) Storage {
			s, err := OpenSQLite(SQLiteConfig{
				Path:        filepath.Join(t.TempDir(), "offline.db"),
				MaxPerOwner: maxPerOwner,
			})
			require.NoError(t, err)
			return s
		},
	}
}

func timed(body string, stamp time.Time) stanza.TimedStanza {
	return stanza.NewTimed(stanza.New(stanza.TypeChat, sender, owner, []byte(body)), stamp)
}

func forEachStore(t *testing.T, maxPerOwner int, fn func(t *testing.T, s Storage)) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, maxPerOwner)
			defer s.Close()
			fn(t, s)
		})
	}
}

func TestPushThenPopReturnsFIFOAndEmpties(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	forEachStore(t, 0, func(t *testing.T, s Storage) {
		for i := 0; i < 3; i++ {
			require.NoError(t, s.PushStanza(ctx, owner, timed(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))))
		}

		n, err := s.Count(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		popped, err := s.PopStanzas(ctx, owner)
		require.NoError(t, err)
		require.Len(t, popped, 3)
		for i, ts := range popped {
			assert.Equal(t, fmt.Sprintf("m%d", i), string(ts.Stanza.Payload))
			assert.Equal(t, owner, ts.Stanza.To)
			assert.Equal(t, sender, ts.Stanza.From)
			assert.True(t, base.Add(time.Duration(i)*time.Second).Equal(ts.Stamp))
		}

		again, err := s.PopStanzas(ctx, owner)
		require.NoError(t, err)
		assert.Empty(t, again)
	})
}

func TestQueueKeyMustBeGeneralForm(t *testing.T) {
	ctx := context.Background()
	full := owner.WithResource("phone")

	forEachStore(t, 0, func(t *testing.T, s Storage) {
		assert.ErrorIs(t, s.PushStanza(ctx, full, timed("x", time.Now())), ErrNotGeneralForm)
		_, err := s.PopStanzas(ctx, full)
		assert.ErrorIs(t, err, ErrNotGeneralForm)
	})
}

func TestQueueCapacity(t *testing.T) {
	ctx := context.Background()

	forEachStore(t, 2, func(t *testing.T, s Storage) {
		require.NoError(t, s.PushStanza(ctx, owner, timed("a", time.Now())))
		require.NoError(t, s.PushStanza(ctx, owner, timed("b", time.Now())))
		assert.ErrorIs(t, s.PushStanza(ctx, owner, timed("c", time.Now())), ErrQueueFull)

		other := jid.MustParse("carol@example.org")
		assert.NoError(t, s.PushStanza(ctx, other, timed("d", time.Now())))
	})
}

func TestPurgeRemovesOnlyOlderStanzas(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	forEachStore(t, 0, func(t *testing.T, s Storage) {
		require.NoError(t, s.PushStanza(ctx, owner, timed("old", cutoff.Add(-time.Hour))))
		require.NoError(t, s.PushStanza(ctx, owner, timed("new", cutoff.Add(time.Hour))))

		removed, err := s.Purge(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		popped, err := s.PopStanzas(ctx, owner)
		require.NoError(t, err)
		require.Len(t, popped, 1)
		assert.Equal(t, "new", string(popped[0].Stanza.Payload))
	})
}

func TestConcurrentPopsAreAtMostOnce(t *testing.T) {
	ctx := context.Background()
	const total = 50

	forEachStore(t, 0, func(t *testing.T, s Storage) {
		for i := 0; i < total; i++ {
			require.NoError(t, s.PushStanza(ctx, owner, timed(fmt.Sprintf("m%d", i), time.Now())))
		}

		var (
			mu   sync.Mutex
			seen = map[string]int{}
			wg   sync.WaitGroup
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				popped, err := s.PopStanzas(ctx, owner)
				assert.NoError(t, err)
				mu.Lock()
				for _, ts := range popped {
					seen[ts.Stanza.ID]++
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Len(t, seen, total)
		for id, n := range seen {
			assert.Equal(t, 1, n, "stanza %s popped more than once", id)
		}
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offline.db")

	s, err := OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.PushStanza(ctx, owner, timed("persisted", time.Now())))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	peeked, err := reopened.Peek(ctx, owner)
	require.NoError(t, err)
	require.Len(t, peeked, 1)

	popped, err := reopened.PopStanzas(ctx, owner)
	require.NoError(t, err)
	require.Len(t, popped, 1)
	assert.Equal(t, "persisted", string(popped[0].Stanza.Payload))
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite(SQLiteConfig{})
	assert.Error(t, err)
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore(0)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.PushStanza(context.Background(), owner, timed("x", time.Now())), ErrClosed)
}
