package gateway

import (
	"context"
	"net/http"

	"DMSync/global"
	"DMSync/middleware"
	midsec "DMSync/middleware/security"
	"DMSync/module/dm/inbox"
	"DMSync/module/dm/resolver"
	"DMSync/module/dm/stream"
	"DMSync/module/dm/unread"
	"DMSync/service/blob"
	"DMSync/tools/errs"
	"DMSync/tools/safe"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Resolver *resolver.Resolver
	Stream   *stream.Stream
	Tracker  *unread.Tracker
	Inbox    *inbox.Inbox
	Uploader blob.Uploader // nil 表示未配置附件存储
	Health   func(ctx context.Context) error

	Auth           *midsec.Options
	AllowedOrigins []string
}

type Server struct {
	Deps
}

func NewServer(d Deps) *Server {
	safe.MustNotNil(d.Resolver, "resolver")
	safe.MustNotNil(d.Stream, "stream")
	safe.MustNotNil(d.Tracker, "tracker")
	safe.MustNotNil(d.Inbox, "inbox")
	safe.MustNotNil(d.Auth, "auth options")
	return &Server{Deps: d}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	mgr := middleware.NewManager()
	mgr.Add(middleware.Origin(s.AllowedOrigins))
	r.Use(gin.Recovery(), middleware.AccessLog(), mgr.Use())

	auth := middleware.RouteOpt{IsAuth: true}
	rt := middleware.NewRoutes(r, s.Auth)
	rt.GET("/healthz", s.healthz, middleware.RouteOpt{})

	api := middleware.NewRoutes(r.Group("/api"), s.Auth)
	api.POST("/dm/conversations", s.getOrCreate, auth)
	api.GET("/dm/conversations", s.listInbox, auth)
	api.GET("/dm/inbox/ws", s.inboxWS, auth)
	api.GET("/dm/conversations/:id", s.conversation, auth)
	api.GET("/dm/conversations/:id/messages", s.history, auth)
	api.POST("/dm/conversations/:id/messages", s.send, auth)
	api.GET("/dm/conversations/:id/ws", s.messagesWS, auth)
	api.POST("/dm/conversations/:id/attachments", s.upload, auth)

	api.GET("/notifications", s.listNotifications, auth)
	api.POST("/notifications", s.createNotification, auth)
	api.GET("/notifications/unread", s.countUnread, auth)
	api.POST("/notifications/read-all", s.markAllRead, auth)
	api.DELETE("/notifications/:id", s.deleteNotification, auth)
	api.GET("/notifications/ws", s.notificationsWS, auth)
	return r
}

// statusOf 错误码到 HTTP 状态
func statusOf(err error) int {
	switch errs.ErrorCode(err) {
	case errs.NotAuthenticatedError:
		return http.StatusUnauthorized
	case errs.ForbiddenError, errs.NotAParticipantError:
		return http.StatusForbidden
	case errs.InvalidContentError, errs.InvalidArgumentError:
		return http.StatusBadRequest
	case errs.ConversationNotFoundError, errs.NotFoundError:
		return http.StatusNotFound
	case errs.StoreUnavailableError:
		return http.StatusServiceUnavailable
	case errs.SendFailedError, errs.UploadFailedError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, global.Success(data))
}

func fail(c *gin.Context, err error) {
	code, msg := errs.ServerInternalError, errs.ErrInternal.Msg
	if ce, found := errs.AsCodeError(err); found {
		code, msg = ce.Code, ce.Msg
	}
	c.AbortWithStatusJSON(statusOf(err), global.Fail(code, msg))
}

func (s *Server) healthz(c *gin.Context) {
	if s.Health != nil {
		if err := s.Health(c.Request.Context()); err != nil {
			fail(c, err)
			return
		}
	}
	ok(c, gin.H{"status": "ok"})
}
