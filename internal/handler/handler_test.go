package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"openfms/console/internal/apiclient"
	"openfms/console/internal/apperr"
	"openfms/console/internal/querycache"
	"openfms/console/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.ErrMissingSelection, http.StatusBadRequest},
		{"submitting", apperr.ErrSubmitInProgress, http.StatusConflict},
		{"not implemented", apperr.ErrNotImplemented, http.StatusNotImplemented},
		{"no report", apperr.ErrNoReport, http.StatusNotFound},
		{"preview gone", fmt.Errorf("get: %w", apperr.ErrPreviewNotFound), http.StatusNotFound},
		{"backend 403", &apiclient.StatusError{StatusCode: http.StatusForbidden}, http.StatusForbidden},
		{"backend 500", &apiclient.StatusError{StatusCode: http.StatusInternalServerError}, http.StatusBadGateway},
		{"wrapped backend", apperr.New(apperr.KindBackend, "X", "x", &apiclient.StatusError{StatusCode: 404}), http.StatusNotFound},
		{"decode", apperr.Decode("bad workbook", errors.New("zip")), http.StatusUnprocessableEntity},
		{"network", errors.New("connection refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorStatus(tt.err); got != tt.want {
				t.Fatalf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRespondErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&apiclient.StatusError{StatusCode: 400, Message: "Duplicate IMEI"}, "Duplicate IMEI"},
		{&apiclient.StatusError{StatusCode: 500}, apperr.GenericFailure},
		{apperr.ErrNotImplemented, "功能开发中"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, tt.err, apperr.GenericFailure)

		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["error"] != tt.want {
			t.Fatalf("respondError(%v) = %q, want %q", tt.err, body["error"], tt.want)
		}
	}
}

func readType(t *testing.T, conn *websocket.Conn, want string) WSMessage {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func TestWSHubPushesCacheAndNotices(t *testing.T) {
	cache := querycache.New(time.Minute)
	defer cache.Close()
	hub := NewWSHub(nil)
	events, cancel := cache.Subscribe(16)
	defer cancel()
	go hub.Run(events)
	defer hub.Stop()

	r := gin.New()
	r.GET("/ws/events", NewWSHandler(hub).HandleEvents)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?client_id=tab-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	welcome := readType(t, conn, "connected")
	if !strings.Contains(string(welcome.Data), "tab-1") {
		t.Fatalf("welcome = %s", welcome.Data)
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want 1", hub.GetClientCount())
		}
		time.Sleep(time.Millisecond)
	}

	hub.Notify(context.Background(), service.Notice{Level: service.NoticeSuccess, Message: "Updated Successfully"})
	msg := readType(t, conn, "notice")
	var notice service.Notice
	if err := json.Unmarshal(msg.Data, &notice); err != nil || notice.Message != "Updated Successfully" {
		t.Fatalf("notice = %s, %v", msg.Data, err)
	}

	cache.Invalidate(querycache.Key{"users"})
	msg = readType(t, conn, "cache")
	var ev querycache.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.Kind != querycache.EventInvalidated || ev.Key.String() != "users" {
		t.Fatalf("cache event = %s, %v", msg.Data, err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	readType(t, conn, "pong")
}

func TestUserEditGuardIsReleased(t *testing.T) {
	h := NewUserHandler(nil, service.FormDeps{})
	if !h.beginEdit(1) {
		t.Fatal("first edit refused")
	}
	if h.beginEdit(1) {
		t.Fatal("second edit of the same user allowed while the first runs")
	}
	if !h.beginEdit(2) {
		t.Fatal("edit of another user refused")
	}
	h.endEdit(1)
	h.endEdit(2)
	if !h.beginEdit(1) {
		t.Fatal("edit refused after the first finished")
	}
	h.endEdit(1)
	if n := len(h.editing); n != 0 {
		t.Fatalf("editing holds %d users, want 0", n)
	}
}

func TestUserNotFoundStatus(t *testing.T) {
	if got := errorStatus(apperr.ErrUserNotFound); got != http.StatusNotFound {
		t.Fatalf("errorStatus = %d, want 404", got)
	}
}
