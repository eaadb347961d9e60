package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BenedictKing/laudo/internal/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, nil, b, LogNotifier{}}
	ev := Event{Type: EventPartial, ExamID: "e1", AccountID: "acc", Status: types.PipelineExtractionOnly}

	m.Notify(context.Background(), ev)
	assert.Equal(t, []Event{ev}, a.Events)
	assert.Equal(t, []Event{ev}, b.Events)
}

func TestHubDeliversToAccountSubscribers(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("account"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?account=acc-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.SubscriberCount("acc-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	// 其他账户的事件不会送达
	hub.Notify(context.Background(), Event{Type: EventFailed, ExamID: "other", AccountID: "acc-2"})
	hub.Notify(context.Background(), Event{Type: EventComplete, ExamID: "e1", AccountID: "acc-1", Status: types.PipelineAnalyzed})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventComplete, got.Type)
	assert.Equal(t, "e1", got.ExamID)
	assert.Equal(t, types.PipelineAnalyzed, got.Status)

	conn.Close()
	require.Eventually(t, func() bool { return hub.SubscriberCount("acc-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	s := hub.subscribe("acc")

	for i := 0; i < subscriberBuffer; i++ {
		hub.Notify(context.Background(), Event{AccountID: "acc"})
	}
	assert.Equal(t, 1, hub.SubscriberCount("acc"))

	hub.Notify(context.Background(), Event{AccountID: "acc"})
	assert.Equal(t, 0, hub.SubscriberCount("acc"))

	n := 0
	for range s.send {
		n++
	}
	assert.Equal(t, subscriberBuffer, n, "断开后通道被关闭，已缓冲事件仍可读出")

	// 重复移除无副作用
	hub.unsubscribe("acc", s)
}
