package handler

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSHandler_BroadcastsFileChanges(t *testing.T) {
	ws := NewWSHandler(nil)
	svc := &capturingService{}

	r := gin.New()
	RegisterRoutes(r.Group("/api"), NewFileHandler(svc, ws, nil), nil, ws)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ws.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/file",
		strings.NewReader(`{"owner":"acme","repo":"docs","path":"README.md","content":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string     `json:"type"`
		Payload FileChange `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, "fileChange", msg.Type)
	assert.Equal(t, FileChange{Event: EventUpdate, Owner: "acme", Repo: "docs", Path: "README.md", SHA: "new"}, msg.Payload)
}

func TestWSHandler_DropsClosedClients(t *testing.T) {
	ws := NewWSHandler(nil)

	r := gin.New()
	r.GET("/ws", ws.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ws.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return ws.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func dialWS(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
}

func TestWSHandler_ConcurrentNotifications(t *testing.T) {
	ws := NewWSHandler(nil)

	r := gin.New()
	r.GET("/ws", ws.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := dialWS(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return ws.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	received := make(chan struct{}, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			select {
			case received <- struct{}{}:
			default:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ws.NotifyFileChange(FileChange{Event: EventUpdate, Owner: "acme", Repo: "docs", Path: "README.md", SHA: strconv.Itoa(i*50 + j)})
			}
		}(i)
	}
	wg.Wait()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
	}
}

func TestWSHandler_StalledClientDoesNotBlock(t *testing.T) {
	ws := NewWSHandler(nil)

	r := gin.New()
	r.GET("/ws", ws.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	// Never read from this connection.
	conn, _, err := dialWS(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return ws.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	payload := strings.Repeat("x", 64<<10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			ws.NotifyFileChange(FileChange{Event: EventUpdate, Path: payload})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifications blocked on a stalled client")
	}
	require.Eventually(t, func() bool { return ws.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWSHandler_RejectsForeignOrigin(t *testing.T) {
	ws := NewWSHandler(nil, "http://localhost:5173")

	r := gin.New()
	r.GET("/ws", ws.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	_, resp, err := dialWS(t, srv, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, ws.ClientCount())

	conn, _, err := dialWS(t, srv, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	conn.Close()

	conn, _, err = dialWS(t, srv, http.Header{"Origin": {"http://localhost:5173"}})
	require.NoError(t, err)
	conn.Close()
}
