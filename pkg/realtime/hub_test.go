package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), conn, r.URL.Query().Get("user"))
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt Event
	require.NoError(t, json.Unmarshal(raw, &evt))
	return evt
}

func TestSendToUserReachesOnlyThatUser(t *testing.T) {
	hub := NewHub(Config{})
	srv := newTestServer(t, hub)

	alice := dial(t, srv, "alice")
	dial(t, srv, "bob")
	require.Eventually(t, func() bool { return hub.Connections() == 2 }, time.Second, 5*time.Millisecond)

	delivered := hub.SendToUser("alice", NewEvent(EventNotification, map[string]string{"title": "Grade posted"}))
	assert.Equal(t, 1, delivered)
	evt := readEvent(t, alice)
	assert.Equal(t, EventNotification, evt.Type)

	assert.Equal(t, 0, hub.SendToUser("carol", NewEvent(EventNotification, nil)))
	assert.False(t, hub.Online("carol"))
	assert.True(t, hub.Online("bob"))
}

func TestJoinCourseChecksMembershipAndRelaysTyping(t *testing.T) {
	hub := NewHub(Config{
		CanJoinCourse: func(ctx context.Context, userID, courseID string) (bool, error) {
			return userID != "outsider", nil
		},
	})
	srv := newTestServer(t, hub)

	teacher := dial(t, srv, "teacher")
	student := dial(t, srv, "student")
	outsider := dial(t, srv, "outsider")

	for _, conn := range []*websocket.Conn{teacher, student, outsider} {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "join_course", "courseId": "c1"}))
	}
	assert.Equal(t, EventJoined, readEvent(t, teacher).Type)
	assert.Equal(t, EventJoined, readEvent(t, student).Type)
	assert.Equal(t, EventError, readEvent(t, outsider).Type)
	assert.Equal(t, 2, hub.RoomSize(CourseRoom("c1")))

	require.NoError(t, student.WriteJSON(map[string]interface{}{"type": "typing", "courseId": "c1", "isTyping": true}))
	evt := readEvent(t, teacher)
	assert.Equal(t, EventTyping, evt.Type)
	data := evt.Data.(map[string]interface{})
	assert.Equal(t, "student", data["userId"])
	assert.Equal(t, true, data["isTyping"])

	require.NoError(t, student.WriteJSON(map[string]string{"type": "leave_course", "courseId": "c1"}))
	require.Eventually(t, func() bool { return hub.RoomSize(CourseRoom("c1")) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDisconnectCleansRooms(t *testing.T) {
	var live atomic.Int32
	hub := NewHub(Config{OnConnectionChange: func(d int) { live.Add(int32(d)) }})
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "alice")
	require.Eventually(t, func() bool { return hub.Online("alice") && live.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !hub.Online("alice") && hub.Connections() == 0 && live.Load() == 0 }, time.Second, 5*time.Millisecond)
}
