package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/messaging-service/internal/directory"
	"marketplace/messaging-service/internal/models"
	"marketplace/messaging-service/internal/realtime"
	"marketplace/messaging-service/internal/repository/memory"
	"marketplace/messaging-service/internal/service"
)

const testSecret = "test-secret"

type testServer struct {
	srv  *httptest.Server
	auth *Authenticator
	hub  *realtime.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	store := memory.NewStore()
	dir := directory.NewMemoryDirectory()
	dir.PutUser(models.User{ID: "alice", DisplayName: "Alice"})
	dir.PutUser(models.User{ID: "bob", DisplayName: "Bob"})
	dir.PutUser(models.User{ID: "carol", DisplayName: "Carol"})
	dir.PutListing(models.Listing{ID: "bike", Title: "Road bike", Status: models.ListingAvailable, OwnerID: "bob"})

	chat := service.NewChatService(store, hub, dir, dir, logger)
	inbox := service.NewInboxService(store, dir, dir, logger)
	notifications := service.NewNotificationService(store, hub, dir, dir, logger)

	auth := NewAuthenticator(testSecret)
	srv := httptest.NewServer(NewHandler(chat, inbox, notifications, hub, auth, logger).Router())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, auth: auth, hub: hub}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.auth.Issue(userID, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, userID, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, "", http.MethodGet, "/api/conversations", nil, nil))

	req, err := http.NewRequest(http.MethodGet, s.srv.URL+"/api/conversations", nil)
	require.NoError(t, err)
	forged, err := NewAuthenticator("other-secret").Issue("alice", jwt.RegisteredClaims{})
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, http.StatusOK, s.do(t, "", http.MethodGet, "/healthz", nil, nil))
}

func TestVerifyRejectsExpiredAndUnsignedTokens(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	expired, err := auth.Issue("alice", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
	require.NoError(t, err)
	_, err = auth.Verify(expired)
	assert.Error(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.Verify(unsigned)
	assert.Error(t, err)

	valid, err := auth.Issue("alice", jwt.RegisteredClaims{})
	require.NoError(t, err)
	sub, err := auth.Verify(valid)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestEmptySecretRejectsEveryToken(t *testing.T) {
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "victim"}).SignedString([]byte(""))
	require.NoError(t, err)

	_, err = NewAuthenticator("").Verify(forged)
	assert.Error(t, err)

	_, err = NewAuthenticator("").Issue("alice", jwt.RegisteredClaims{})
	assert.ErrorIs(t, err, errNoSecret)
}

func TestConversationFlow(t *testing.T) {
	s := newTestServer(t)

	var conv conversationJSON
	status := s.do(t, "alice", http.MethodPost, "/api/conversations", map[string]string{"listing_id": "bike", "recipient_id": "bob"}, &conv)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, conv.ID)

	var msg messageJSON
	status = s.do(t, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", map[string]string{"content": "Still available?"}, &msg)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "alice", msg.SenderID)

	var page pageJSON
	status = s.do(t, "bob", http.MethodGet, "/api/conversations?filter=Selling", nil, &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Items, 1)
	assert.Equal(t, conv.ID, page.Items[0].ConversationID)
	assert.True(t, page.Items[0].IsUnread)
	assert.True(t, page.Items[0].IsSeller)

	var counts map[string]int
	status = s.do(t, "bob", http.MethodGet, "/api/conversations/unread-counts", nil, &counts)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, counts["Selling"])
	assert.Equal(t, 1, counts["All Messages"])

	var marked map[string]int
	status = s.do(t, "bob", http.MethodPost, "/api/conversations/"+conv.ID+"/read", nil, &marked)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, marked["marked_count"])

	var messages []messageJSON
	status = s.do(t, "bob", http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil, &messages)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].IsRead)

	var notifications []notificationJSON
	status = s.do(t, "bob", http.MethodGet, "/api/notifications", nil, &notifications)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, notifications, 1)
	assert.Equal(t, "NEW_MESSAGE", notifications[0].Type)

	var deleted map[string]bool
	status = s.do(t, "bob", http.MethodDelete, "/api/conversations/"+conv.ID, nil, &deleted)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, deleted["purged"])

	status = s.do(t, "alice", http.MethodDelete, "/api/conversations/"+conv.ID, nil, &deleted)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, deleted["purged"])

	assert.Equal(t, http.StatusNotFound, s.do(t, "alice", http.MethodGet, "/api/conversations/"+conv.ID, nil, nil))
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t)

	var conv conversationJSON
	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodPost, "/api/conversations", map[string]string{"recipient_id": "bob"}, &conv))

	assert.Equal(t, http.StatusForbidden, s.do(t, "carol", http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, "alice", http.MethodGet, "/api/conversations/missing/messages", nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", map[string]string{"content": ""}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, "alice", http.MethodGet, "/api/conversations?filter=Nope", nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, "alice", http.MethodPost, "/api/conversations", map[string]string{"recipient_id": "alice"}, nil))

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/conversations", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "alice"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "invalid request body")
}

func TestLikeEndpoints(t *testing.T) {
	s := newTestServer(t)

	var n notificationJSON
	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodPost, "/api/listings/bike/like", nil, &n))
	assert.Equal(t, "NEW_LIKE", n.Type)

	assert.Equal(t, http.StatusNoContent, s.do(t, "bob", http.MethodPost, "/api/listings/bike/like", nil, nil))

	var unread map[string]int
	require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodGet, "/api/notifications/unread-count", nil, &unread))
	assert.Equal(t, 1, unread["unread_count"])

	assert.Equal(t, http.StatusForbidden, s.do(t, "alice", http.MethodPost, "/api/notifications/"+n.ID+"/read", nil, nil))
	assert.Equal(t, http.StatusNoContent, s.do(t, "bob", http.MethodPost, "/api/notifications/"+n.ID+"/read", nil, nil))

	var removed map[string]int
	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodDelete, "/api/listings/bike/like", nil, &removed))
	assert.Equal(t, 1, removed["removed"])
}

func TestWebSocketReceivesMessages(t *testing.T) {
	s := newTestServer(t)

	var conv conversationJSON
	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodPost, "/api/conversations", map[string]string{"recipient_id": "bob"}, &conv))

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?access_token=" + s.token(t, "bob")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.SubscriberCount(realtime.UserChannel("bob")) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, http.StatusCreated, s.do(t, "alice", http.MethodPost, "/api/conversations/"+conv.ID+"/messages", map[string]string{"content": "ping"}, nil))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev realtime.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, realtime.EventMessageReceived, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "ping", ev.Message.Content)
	require.NotNil(t, ev.Notification)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.srv.URL, "http")+"/ws", nil)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}
