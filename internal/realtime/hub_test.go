package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/session-migrator/internal/migration"
)

func watcher(topic string) *Client {
	return &Client{ID: topic + "-client", Topic: topic, send: make(chan WSMessage, 8)}
}

func receive(t *testing.T, c *Client) migration.Event {
	t.Helper()
	select {
	case msg := <-c.send:
		assert.Equal(t, progressEvent, msg.Event)
		var e migration.Event
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		return e
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return migration.Event{}
	}
}

func TestHub_DeliversToActivityAndAllWatchers(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	one, other, all := watcher("act-1"), watcher("act-2"), watcher(AllActivities)
	hub.Register(one)
	hub.Register(other)
	hub.Register(all)
	assert.Equal(t, 1, hub.Watchers("act-1"))

	hub.Notify(migration.Event{ActivityID: "act-1", Stage: migration.StageUpload, VideoIndex: 1, Bytes: 10, Total: 20})

	assert.Equal(t, int64(10), receive(t, one).Bytes)
	assert.Equal(t, "act-1", receive(t, all).ActivityID)
	select {
	case <-other.send:
		t.Fatal("unrelated watcher received event")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister(one)
	assert.Zero(t, hub.Watchers("act-1"))
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub(nil, nil)
	c := watcher("act-1")
	hub.Register(c)

	hub.Unregister(c)
	_, ok := <-c.send
	assert.False(t, ok)

	assert.NotPanics(t, func() { hub.Unregister(c) })
	assert.NotPanics(t, func() { hub.deliver([]byte(`{"activity_id":"act-1"}`)) })
}

func TestHub_NotifyNeverBlocks(t *testing.T) {
	hub := NewHub(nil, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize*2; i++ {
			hub.Notify(migration.Event{ActivityID: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked without a running hub")
	}
}

type memoryBus struct {
	mu        sync.Mutex
	handlers  []func([]byte)
	published int
	err       error
}

func (b *memoryBus) Publish(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	b.published++
	err := b.err
	handlers := append([]func([]byte){}, b.handlers...)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context, handler func([]byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	return func() {}, nil
}

func TestHub_BusDeliversOnce(t *testing.T) {
	bus := &memoryBus{}
	hub := NewHub(nil, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	w := watcher("act-1")
	hub.Register(w)
	hub.Notify(migration.Event{ActivityID: "act-1", Status: "completed"})

	assert.Equal(t, "completed", string(receive(t, w).Status))
	select {
	case <-w.send:
		t.Fatal("event delivered twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_BusFailureFallsBackToLocal(t *testing.T) {
	bus := &memoryBus{err: errors.New("redis down")}
	hub := NewHub(nil, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	w := watcher(AllActivities)
	hub.Register(w)
	hub.Notify(migration.Event{ActivityID: "act-9"})
	assert.Equal(t, "act-9", receive(t, w).ActivityID)
}

func TestServeWs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	r := gin.New()
	r.GET("/ws/progress", ServeWs(hub, nil, func(token string) error {
		if token != "good" {
			return errors.New("bad token")
		}
		return nil
	}))
	srv := httptest.NewServer(r)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/progress"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Watchers(AllActivities) == 1 }, time.Second, 5*time.Millisecond)
	hub.Notify(migration.Event{ActivityID: "act-3", Bytes: 42})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, progressEvent, msg.Event)
	var e migration.Event
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, int64(42), e.Bytes)
}
