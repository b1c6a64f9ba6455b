package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ride-matching/internal/collab"
)

type recordingNotifier struct {
	mu   sync.Mutex
	got  map[string]collab.Message
	fail map[string]error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{got: map[string]collab.Message{}, fail: map[string]error{}}
}

func (r *recordingNotifier) Notify(_ context.Context, recipient string, msg collab.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[recipient]; err != nil {
		return err
	}
	r.got[recipient] = msg
	return nil
}

func TestFanoutReportsEveryRecipient(t *testing.T) {
	n := newRecordingNotifier()
	n.fail["d-2"] = errors.New("offline")
	msg := collab.Message{Text: "New ride request from Ana"}

	out := Fanout(context.Background(), n, []string{"d-1", "d-2", "d-3"}, msg, 2)

	require.Len(t, out, 3)
	assert.Equal(t, "d-1", out[0].DriverID)
	assert.True(t, out[0].Delivered())
	assert.False(t, out[1].Delivered())
	assert.True(t, out[2].Delivered())
	assert.Len(t, n.got, 2)
	assert.Equal(t, msg, n.got["d-3"])
}

func TestFanoutEmpty(t *testing.T) {
	assert.Empty(t, Fanout(context.Background(), newRecordingNotifier(), nil, collab.Message{}, 0))
}

func TestHTTPDispatcherPosts(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewHTTPDispatcher(srv.URL).Notify(context.Background(), "d-1", collab.Message{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "d-1", body["recipient"])
	assert.Equal(t, "hi", body["message"].(map[string]any)["text"])
}

func TestHTTPDispatcherNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPDispatcher(srv.URL).Notify(context.Background(), "d-1", collab.Message{})
	assert.Error(t, err)
}

func TestFCMDispatcherTopicAndAuth(t *testing.T) {
	var body struct {
		Message struct {
			Topic        string            `json:"topic"`
			Notification map[string]string `json:"notification"`
			Data         map[string]string `json:"data"`
		} `json:"message"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	f := NewFCMDispatcher(srv.URL, "secret")
	err := f.Notify(context.Background(), "p-1", collab.Message{Text: "on the way", Extra: map[string]any{"eta_seconds": 300}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "user_p-1", body.Message.Topic)
	assert.Equal(t, "on the way", body.Message.Notification["body"])
	assert.Equal(t, "300", body.Message.Data["eta_seconds"])
}

// wsPair starts a server that registers every connection under id and
// returns the client side.
func wsPair(t *testing.T, reg *WSRegistry, id string) *websocket.Conn {
	t.Helper()
	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reg.Add(id, conn)
		close(registered)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				reg.Remove(id, conn)
				conn.Close()
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("session never registered")
	}
	return conn
}

func TestWSRegistryNotify(t *testing.T) {
	reg := NewWSRegistry()
	client := wsPair(t, reg, "d-1")
	assert.True(t, reg.Connected("d-1"))

	require.NoError(t, reg.Notify(context.Background(), "d-1", collab.Message{Text: "ping"}))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got collab.Message
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "ping", got.Text)
}

func TestWSRegistryNoSession(t *testing.T) {
	err := NewWSRegistry().Notify(context.Background(), "nobody", collab.Message{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestPushDispatcherPrefersWS(t *testing.T) {
	reg := NewWSRegistry()
	client := wsPair(t, reg, "d-1")
	fallback := newRecordingNotifier()
	p := NewPushDispatcher(reg, fallback, zap.NewNop())

	require.NoError(t, p.Notify(context.Background(), "d-1", collab.Message{Text: "ws"}))
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got collab.Message
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "ws", got.Text)
	assert.Empty(t, fallback.got)
}

func TestPushDispatcherFallsBack(t *testing.T) {
	fallback := newRecordingNotifier()
	p := NewPushDispatcher(NewWSRegistry(), fallback, zap.NewNop())

	require.NoError(t, p.Notify(context.Background(), "d-9", collab.Message{Text: "push"}))
	assert.Equal(t, "push", fallback.got["d-9"].Text)
}

func TestPushDispatcherNoChannel(t *testing.T) {
	p := NewPushDispatcher(NewWSRegistry(), nil, zap.NewNop())
	assert.ErrorIs(t, p.Notify(context.Background(), "d-9", collab.Message{}), ErrNoSession)
}
