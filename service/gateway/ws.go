package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"DMSync/global"
	"DMSync/logger"
	"DMSync/middleware"
	midsec "DMSync/middleware/security"
	"DMSync/module/dm/live"
	"DMSync/module/dm/model"
	"DMSync/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 50 * time.Second
	maxFrameSize = 64 << 10
)

// outFrame 服务端下行帧
type outFrame struct {
	Type  string      `json:"type"`
	ReqID string      `json:"reqId,omitempty"`
	Data  any         `json:"data,omitempty"`
	Error *global.Msg `json:"error,omitempty"`
}

// inFrame 客户端上行帧；目前只有会话连接支持 send
type inFrame struct {
	Type       string            `json:"type"`
	ReqID      string            `json:"reqId"`
	Text       string            `json:"text"`
	Attachment *model.Attachment `json:"attachment"`
}

type frameHandler func(ctx context.Context, f inFrame) outFrame

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.OriginAllowed(s.AllowedOrigins, origin)
		},
	}
}

func errFrame(reqID string, err error) outFrame {
	code, msg := errs.ServerInternalError, errs.ErrInternal.Msg
	if ce, ok := errs.AsCodeError(err); ok {
		code, msg = ce.Code, ce.Msg
	}
	return outFrame{Type: "error", ReqID: reqID, Error: global.Fail(code, msg)}
}

// pump 把 watch 的每次更新写给客户端，同时读取上行帧；任一方向出错都会结束连接
func pump[T any](s *Server, c *gin.Context, typ string, w *live.Watch[T], onFrame frameHandler) {
	defer w.Cancel()
	caller := midsec.CallerFrom(c)

	ws, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写回错误响应
		logger.Info("[ws] upgrade failed", zap.String("user", caller.UserID), zap.Error(err))
		return
	}
	defer ws.Close()

	replies := make(chan outFrame, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer w.Cancel()
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		write := func(f outFrame) error {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			return ws.WriteJSON(f)
		}
		for {
			var err error
			select {
			case v, ok := <-w.Updates():
				if !ok {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
				err = write(outFrame{Type: typ, Data: v})
			case f := <-replies:
				err = write(f)
			case <-ticker.C:
				err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			}
			if err != nil {
				logger.Debug("[ws] write", zap.String("user", caller.UserID), zap.Error(err))
				return
			}
		}
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(pongWait)) })

	ctx := c.Request.Context()
	for {
		_, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("[ws] peer closed", zap.String("user", caller.UserID))
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Info("[ws] read timeout", zap.String("user", caller.UserID))
			} else {
				logger.Debug("[ws] read err", zap.String("user", caller.UserID), zap.Error(rerr))
			}
			break
		}
		if onFrame == nil {
			continue
		}
		var f inFrame
		if err := json.Unmarshal(data, &f); err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Info("[ws] bad frame", zap.String("user", caller.UserID), zap.ByteString("sample", sample))
			continue
		}
		select {
		case replies <- onFrame(ctx, f):
		case <-writerDone:
		}
	}
	w.Cancel()
	<-writerDone
}

func (s *Server) messagesWS(c *gin.Context) {
	caller := midsec.CallerFrom(c)
	convID := c.Param("id")
	sub, err := s.Stream.Subscribe(c.Request.Context(), caller, convID)
	if err != nil {
		fail(c, err)
		return
	}
	pump(s, c, "messages", sub.Watch, func(ctx context.Context, f inFrame) outFrame {
		if f.Type != "send" {
			return errFrame(f.ReqID, errs.ErrInvalidArgument.WrapMsg("unknown frame type", "type", f.Type))
		}
		msg, err := s.Stream.Send(ctx, caller, convID, caller.UserID, model.Content{Text: f.Text, Attachment: f.Attachment})
		if err != nil {
			return errFrame(f.ReqID, err)
		}
		return outFrame{Type: "sent", ReqID: f.ReqID, Data: msg}
	})
}

func (s *Server) inboxWS(c *gin.Context) {
	w, err := s.Inbox.Watch(c.Request.Context(), midsec.CallerFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	pump(s, c, "inbox", w, nil)
}

// notificationsWS 推送未读数
func (s *Server) notificationsWS(c *gin.Context) {
	caller := midsec.CallerFrom(c)
	w, err := s.Tracker.WatchUnread(c.Request.Context(), caller, caller.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	pump(s, c, "unread", w, nil)
}
