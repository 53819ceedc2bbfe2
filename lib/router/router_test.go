package router

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/config"
	"github.com/go-i2p/go-stanzarouter/lib/dispatch"
	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.RouterConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.LocalDomains = []string{"example.org"}
	cfg.StoreOffline = true
	cfg.Retry.Workers = 0
	cfg.Offline.Backend = config.BackendSQLite
	cfg.Offline.Path = filepath.Join(t.TempDir(), "offline.db")
	return &cfg
}

func receive(t *testing.T, ch *dispatch.QueueChannel) *stanza.Stanza {
	t.Helper()
	select {
	case st := <-ch.Messages():
		return st
	case <-time.After(5 * time.Second):
		t.Fatal("no stanza delivered")
		return nil
	}
}

func TestRouterStoreAndForwardEndToEnd(t *testing.T) {
	r, err := CreateRouter(testConfig(t), Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	r.Start()
	defer r.Close()

	ctx := context.Background()
	first := chat(bob, alice, "one")
	second := chat(bob, alice, "two")
	require.NoError(t, r.Handler().Handle(ctx, first))
	require.NoError(t, r.Handler().Handle(ctx, second))

	n, err := r.Storage().Count(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ch := dispatch.NewQueueChannel(4)
	require.NoError(t, r.Connect(res("alice@example.org/laptop", 0), ch))

	got := []*stanza.Stanza{receive(t, ch), receive(t, ch)}
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	assert.Equal(t, jid.MustParse("alice@example.org/laptop"), got[0].To)

	n, err = r.Storage().Count(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRouterDeliversToConnectedResource(t *testing.T) {
	r, err := CreateRouter(testConfig(t), Options{})
	require.NoError(t, err)
	r.Start()
	defer r.Close()

	ch := dispatch.NewQueueChannel(1)
	require.NoError(t, r.Connect(res("alice@example.org/phone", 1), ch))

	st := chat(bob, alice, "hello")
	require.NoError(t, r.Handler().Handle(context.Background(), st))
	assert.Equal(t, st.ID, receive(t, ch).ID)

	r.Disconnect(jid.MustParse("alice@example.org/phone"))
	require.NoError(t, r.Handler().Handle(context.Background(), chat(bob, alice, "queued")))
	n, err := r.Storage().Count(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRouterConnectRejectsGeneralForm(t *testing.T) {
	r, err := CreateRouter(testConfig(t), Options{})
	require.NoError(t, err)
	defer r.Close()

	assert.Error(t, r.Connect(res("alice@example.org", 0), dispatch.NewQueueChannel(1)))
}

func TestRouterPurgeHonoursRetention(t *testing.T) {
	cfg := testConfig(t)
	cfg.Offline.Retention = time.Hour
	r, err := CreateRouter(cfg, Options{})
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	old := stanza.NewTimed(chat(bob, alice, "old"), time.Now().Add(-2*time.Hour))
	fresh := stanza.NewTimed(chat(bob, alice, "fresh"), time.Now())
	require.NoError(t, r.Storage().PushStanza(ctx, alice, old))
	require.NoError(t, r.Storage().PushStanza(ctx, alice, fresh))

	n, err := r.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateRouterRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Offline.Backend = "tape"
	_, err := CreateRouter(cfg, Options{})
	assert.Error(t, err)
}

func TestRouterStopAndWait(t *testing.T) {
	r, err := CreateRouter(testConfig(t), Options{})
	require.NoError(t, err)
	r.Start()

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	r.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Stop")
	}
	require.NoError(t, r.Close())
}

func TestRouterRestartAfterStop(t *testing.T) {
	r, err := CreateRouter(testConfig(t), Options{})
	require.NoError(t, err)

	r.Start()
	r.Stop()
	r.Start()

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	assert.NotPanics(t, r.Stop)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after the second Stop")
	}
	require.NoError(t, r.Close())
}

func TestRouterRetriesRunInlineAfterDrain(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retry.Workers = 2
	r, err := CreateRouter(cfg, Options{})
	require.NoError(t, err)
	r.Start()
	defer r.Close()

	require.NoError(t, r.Drain())

	ctx := context.Background()
	queued := chat(bob, alice, "after drain")
	require.NoError(t, r.Handler().Handle(ctx, queued))

	ch := dispatch.NewQueueChannel(1)
	require.NoError(t, r.Connect(res("alice@example.org/laptop", 0), ch))

	// the retry ran inside Connect, so the stanza is already buffered
	select {
	case st := <-ch.Messages():
		assert.Equal(t, queued.ID, st.ID)
	default:
		t.Fatal("retry did not run inline after Drain")
	}
}
