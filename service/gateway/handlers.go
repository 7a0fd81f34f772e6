package gateway

import (
	"strconv"

	midsec "DMSync/middleware/security"
	"DMSync/module/dm/model"
	"DMSync/service/blob"
	"DMSync/tools/errs"

	"github.com/gin-gonic/gin"
)

type getOrCreateReq struct {
	PeerID string `json:"peerId"`
}

type sendReq struct {
	SenderID   string            `json:"senderId"`
	Text       string            `json:"text"`
	Attachment *model.Attachment `json:"attachment"`
}

type notifyReq struct {
	UserID  string         `json:"userId"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapErr(err, "bad request body"))
		return false
	}
	return true
}

func intQuery(c *gin.Context, key string, def int64) (int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad query parameter", "key", key))
		return 0, false
	}
	return n, true
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// pageLimit 0 或越界时收敛到 [1, maxPageSize]，store 层的 0 表示不限
func pageLimit(n int64) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	}
	return int(n)
}

func (s *Server) getOrCreate(c *gin.Context) {
	var req getOrCreateReq
	if !bind(c, &req) {
		return
	}
	caller := midsec.CallerFrom(c)
	id, err := s.Resolver.GetOrCreate(c.Request.Context(), caller, caller.UserID, req.PeerID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"conversationId": id})
}

func (s *Server) conversation(c *gin.Context) {
	conv, err := s.Resolver.Conversation(c.Request.Context(), midsec.CallerFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, conv)
}

func (s *Server) listInbox(c *gin.Context) {
	list, err := s.Inbox.List(c.Request.Context(), midsec.CallerFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, list)
}

func (s *Server) history(c *gin.Context) {
	after, good := intQuery(c, "afterSeq", 0)
	if !good {
		return
	}
	limit, good := intQuery(c, "limit", defaultPageSize)
	if !good {
		return
	}
	msgs, err := s.Stream.History(c.Request.Context(), midsec.CallerFrom(c), c.Param("id"), after, pageLimit(limit))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, msgs)
}

func (s *Server) send(c *gin.Context) {
	var req sendReq
	if !bind(c, &req) {
		return
	}
	caller := midsec.CallerFrom(c)
	if req.SenderID == "" {
		req.SenderID = caller.UserID
	}
	msg, err := s.Stream.Send(c.Request.Context(), caller, c.Param("id"), req.SenderID,
		model.Content{Text: req.Text, Attachment: req.Attachment})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, msg)
}

// upload multipart 字段名 file；返回的附件由客户端随后传给 send
func (s *Server) upload(c *gin.Context) {
	if s.Uploader == nil {
		fail(c, errs.ErrUploadFailed.WrapMsg("attachment storage not configured"))
		return
	}
	ctx := c.Request.Context()
	convID := c.Param("id")
	if _, err := s.Resolver.Conversation(ctx, midsec.CallerFrom(c), convID); err != nil {
		fail(c, err)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, errs.ErrInvalidArgument.WrapErr(err, "missing file"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, errs.ErrInvalidArgument.WrapErr(err, "open file"))
		return
	}
	defer f.Close()

	att, err := blob.UploadAttachment(ctx, s.Uploader, convID, fh.Filename, fh.Header.Get("Content-Type"), fh.Size, f)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, att)
}

func (s *Server) listNotifications(c *gin.Context) {
	limit, good := intQuery(c, "limit", defaultPageSize)
	if !good {
		return
	}
	caller := midsec.CallerFrom(c)
	list, err := s.Tracker.List(c.Request.Context(), caller, caller.UserID, pageLimit(limit))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, list)
}

func (s *Server) createNotification(c *gin.Context) {
	var req notifyReq
	if !bind(c, &req) {
		return
	}
	n, err := s.Tracker.Notify(c.Request.Context(), req.UserID, req.Type, req.Payload)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, n)
}

func (s *Server) countUnread(c *gin.Context) {
	caller := midsec.CallerFrom(c)
	n, err := s.Tracker.CountUnread(c.Request.Context(), caller, caller.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"unread": n})
}

func (s *Server) markAllRead(c *gin.Context) {
	caller := midsec.CallerFrom(c)
	n, err := s.Tracker.MarkAllRead(c.Request.Context(), caller, caller.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"cleared": n})
}

func (s *Server) deleteNotification(c *gin.Context) {
	if err := s.Tracker.Delete(c.Request.Context(), midsec.CallerFrom(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}
