package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	midsec "DMSync/middleware/security"
	"DMSync/module/dm/inbox"
	"DMSync/module/dm/live"
	"DMSync/module/dm/mocks"
	"DMSync/module/dm/model"
	"DMSync/module/dm/resolver"
	"DMSync/module/dm/store"
	"DMSync/module/dm/stream"
	"DMSync/module/dm/unread"
	"DMSync/tools/errs"
	jwtx "DMSync/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

type env struct {
	st     *store.MemStore
	router *gin.Engine
	srv    *Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.NewMemStore()
	bus := live.NewMemBus()
	r := resolver.New(st, bus, nil)
	tr := unread.New(st, bus)
	srv := NewServer(Deps{
		Resolver: r,
		Stream:   stream.New(st, r, bus, unread.NewNotifier(tr, nil)),
		Tracker:  tr,
		Inbox:    inbox.New(st, st, bus),
		Auth:     midsec.DefaultOptions(secret),
	})
	return &env{st: st, router: srv.Router(), srv: srv}
}

func token(t *testing.T, user string) string {
	tok, _, err := jwtx.Generate(jwtx.DefaultOptions(secret), user)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path, user string, body any) (int, envelope) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var out envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func (e *env) conversation(t *testing.T, user, peer string) string {
	code, res := e.do(t, http.MethodPost, "/api/dm/conversations", user, getOrCreateReq{PeerID: peer})
	require.Equal(t, http.StatusOK, code)
	var data struct {
		ConversationID string `json:"conversationId"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &data))
	return data.ConversationID
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	code, res := e.do(t, http.MethodGet, "/api/dm/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, errs.NotAuthenticatedError, res.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/dm/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConversationFlow(t *testing.T) {
	e := newEnv(t)
	id := e.conversation(t, "alice", "bob")
	assert.Equal(t, id, e.conversation(t, "bob", "alice"))

	code, res := e.do(t, http.MethodPost, "/api/dm/conversations/"+id+"/messages", "alice", sendReq{Text: "hello"})
	require.Equal(t, http.StatusOK, code)
	var msg model.Message
	require.NoError(t, json.Unmarshal(res.Data, &msg))
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, "alice", msg.SenderID)

	code, res = e.do(t, http.MethodGet, "/api/dm/conversations/"+id+"/messages?afterSeq=0", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	var msgs []model.Message
	require.NoError(t, json.Unmarshal(res.Data, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)

	code, res = e.do(t, http.MethodGet, "/api/dm/conversations", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	var list []inbox.Entry
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].Peer.ID)

	// 新消息给 bob 生成一条未读通知
	code, res = e.do(t, http.MethodGet, "/api/notifications/unread", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"unread":1}`, string(res.Data))

	code, res = e.do(t, http.MethodPost, "/api/notifications/read-all", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"cleared":1}`, string(res.Data))
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	id := e.conversation(t, "alice", "bob")

	code, res := e.do(t, http.MethodPost, "/api/dm/conversations/"+id+"/messages", "carol", sendReq{Text: "x"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, errs.NotAParticipantError, res.Code)

	code, res = e.do(t, http.MethodPost, "/api/dm/conversations/"+id+"/messages", "alice", sendReq{Text: " "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errs.InvalidContentError, res.Code)

	code, _ = e.do(t, http.MethodPost, "/api/dm/conversations/"+id+"/messages", "alice", sendReq{SenderID: "bob", Text: "spoof"})
	assert.Equal(t, http.StatusForbidden, code)

	code, res = e.do(t, http.MethodGet, "/api/dm/conversations/p2p:x_y/messages", "alice", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, errs.ConversationNotFoundError, res.Code)

	code, _ = e.do(t, http.MethodPost, "/api/dm/conversations", "alice", getOrCreateReq{PeerID: "alice"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/api/dm/conversations/"+id+"/messages?limit=-1", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestNotificationsCRUD(t *testing.T) {
	e := newEnv(t)
	code, res := e.do(t, http.MethodPost, "/api/notifications", "hr", notifyReq{
		UserID: "alice", Type: model.NotifyApplicationStatus,
		Payload: map[string]any{"jobId": "j1", "status": "accepted"},
	})
	require.Equal(t, http.StatusOK, code)
	var n model.Notification
	require.NoError(t, json.Unmarshal(res.Data, &n))

	code, _ = e.do(t, http.MethodPost, "/api/notifications", "hr", notifyReq{UserID: "alice", Type: model.NotifySystem})
	assert.Equal(t, http.StatusBadRequest, code)

	code, res = e.do(t, http.MethodGet, "/api/notifications?limit=10", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	var list []model.Notification
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.Len(t, list, 1)

	code, _ = e.do(t, http.MethodDelete, "/api/notifications/"+n.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = e.do(t, http.MethodDelete, "/api/notifications/"+n.ID, "alice", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestUpload(t *testing.T) {
	e := newEnv(t)
	id := e.conversation(t, "alice", "bob")

	ctrl := gomock.NewController(t)
	up := mocks.NewMockUploader(ctrl)
	e.srv.Uploader = up
	e.router = e.srv.Router()

	upload := func(user string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", "cat.png")
		require.NoError(t, err)
		_, _ = fw.Write([]byte("png-bytes"))
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/api/dm/conversations/"+id+"/attachments", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token(t, user))
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		return w
	}

	up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), int64(9), gomock.Any()).DoAndReturn(
		func(_ context.Context, key string, _ interface{}, _ int64, _ string) (string, error) {
			assert.True(t, strings.HasPrefix(key, "attachments/"+id+"/"))
			return "https://cdn/" + key, nil
		})
	w := upload("alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"name":"cat.png"`)

	assert.Equal(t, http.StatusForbidden, upload("carol").Code)

	up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("s3 down"))
	assert.Equal(t, http.StatusBadGateway, upload("bob").Code)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	code, _ := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)

	e.srv.Health = func(context.Context) error { return errs.ErrStoreUnavailable.Wrap() }
	e.router = e.srv.Router()
	code, res := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, errs.StoreUnavailableError, res.Code)
}

func TestMessagesWebSocket(t *testing.T) {
	e := newEnv(t)
	id := e.conversation(t, "alice", "bob")
	_, _ = e.do(t, http.MethodPost, "/api/dm/conversations/"+id+"/messages", "bob", sendReq{Text: "first"})

	ts := httptest.NewServer(e.router)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/dm/conversations/" + id + "/ws?token=" + token(t, "alice")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type frame struct {
		Type  string          `json:"type"`
		ReqID string          `json:"reqId"`
		Data  json.RawMessage `json:"data"`
	}
	read := func() frame {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	f := read()
	require.Equal(t, "messages", f.Type)
	var u stream.Update
	require.NoError(t, json.Unmarshal(f.Data, &u))
	assert.True(t, u.Initial)
	require.Len(t, u.Messages, 1)

	require.NoError(t, conn.WriteJSON(inFrame{Type: "send", ReqID: "r1", Text: "second"}))

	var gotSent, gotUpdate bool
	for !(gotSent && gotUpdate) {
		f := read()
		switch f.Type {
		case "sent":
			assert.Equal(t, "r1", f.ReqID)
			gotSent = true
		case "messages":
			require.NoError(t, json.Unmarshal(f.Data, &u))
			require.Len(t, u.Added, 1)
			assert.Equal(t, "second", u.Added[0].Text)
			assert.Len(t, u.Messages, 2)
			gotUpdate = true
		default:
			t.Fatalf("unexpected frame %s", f.Type)
		}
	}
}

func TestWebSocketRejectsOutsider(t *testing.T) {
	e := newEnv(t)
	id := e.conversation(t, "alice", "bob")
	ts := httptest.NewServer(e.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/dm/conversations/" + id + "/ws?token=" + token(t, "carol")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHistoryPaging(t *testing.T) {
	e := newEnv(t)
	id := e.conversation(t, "alice", "bob")
	for _, text := range []string{"a", "b", "c"} {
		code, _ := e.do(t, http.MethodPost, "/api/dm/conversations/"+id+"/messages", "alice", sendReq{Text: text})
		require.Equal(t, http.StatusOK, code)
	}

	for query, want := range map[string]int{"?limit=0": 3, "?limit=2": 2, "?afterSeq=2&limit=0": 1} {
		code, res := e.do(t, http.MethodGet, "/api/dm/conversations/"+id+"/messages"+query, "bob", nil)
		require.Equal(t, http.StatusOK, code, query)
		var msgs []model.Message
		require.NoError(t, json.Unmarshal(res.Data, &msgs))
		assert.Len(t, msgs, want, query)
	}
}

func TestPageLimit(t *testing.T) {
	assert.Equal(t, defaultPageSize, pageLimit(0))
	assert.Equal(t, 1, pageLimit(1))
	assert.Equal(t, maxPageSize, pageLimit(maxPageSize+1))
	assert.Equal(t, maxPageSize, pageLimit(1<<40))
}
