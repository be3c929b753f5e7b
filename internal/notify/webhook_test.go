package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_DeliversEvent(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		mu.Lock()
		received = payload
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook("test", srv.URL, nil)
	w.Notify(Event{Type: "task.created", UserID: "alice", TaskID: "t-1", Message: "Learn Go"})

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, received)
	assert.Equal(t, "task.created", received["type"])
	assert.Equal(t, "alice", received["user_id"])
}

func TestWebhookNotifier_FiltersEvents(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook("test", srv.URL, []string{"task.completed"})
	w.Notify(Event{Type: "task.created"})

	assert.Equal(t, 0, hits)
}

func TestHub_FansOutToAllNotifiers(t *testing.T) {
	t.Parallel()

	type counter struct {
		mu sync.Mutex
		n  int
	}
	c1, c2 := &counter{}, &counter{}
	count := func(c *counter) NotifierFunc {
		return func(Event) {
			c.mu.Lock()
			c.n++
			c.mu.Unlock()
		}
	}

	hub := NewHub(count(c1), count(c2))
	hub.Notify(Event{Type: "task.created"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c1.mu.Lock()
		n1 := c1.n
		c1.mu.Unlock()
		c2.mu.Lock()
		n2 := c2.n
		c2.mu.Unlock()
		if n1 == 1 && n2 == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("notifiers were not invoked")
}
