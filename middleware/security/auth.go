package security

import (
	"net/http"
	"strings"

	"DMSync/global"
	"DMSync/module/dm/model"
	"DMSync/tools/errs"
	jwtx "DMSync/tools/security"

	"github.com/gin-gonic/gin"
)

// ---------------- context key ----------------
const (
	PPCtxAuthKey   = "authorization" // string，原始 token
	PPCtxCallerKey = "caller"        // model.Caller
)

type Options struct {
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
	// 浏览器 WebSocket 不能带自定义头，允许 ?token=
	QueryToken string
	JWT        jwtx.Options
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		HeaderToken:               PPCtxAuthKey,
		EnableAuthorizationBearer: true,
		QueryToken:                "token",
		JWT:                       jwtx.DefaultOptions(secret),
	}
}

func tokenFrom(c *gin.Context, opts *Options) string {
	token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	// 兼容 Authorization: Bearer xxx
	if opts.EnableAuthorizationBearer && strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[len("bearer "):])
	}
	if token == "" && opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[len("bearer "):])
		}
	}
	if token == "" && opts.QueryToken != "" {
		token = strings.TrimSpace(c.Query(opts.QueryToken))
	}
	return token
}

// Middleware 校验 JWT，把调用方身份写入 context
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFrom(c, opts)
		if token == "" {
			abort(c)
			return
		}
		subject, err := jwtx.Verify(opts.JWT, token)
		if err != nil || subject == "" {
			abort(c)
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Set(PPCtxCallerKey, model.Caller{UserID: subject})
		c.Next()
	}
}

func abort(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, global.Fail(errs.NotAuthenticatedError, errs.ErrNotAuthenticated.Msg))
}

// CallerFrom 未鉴权的请求返回空 Caller
func CallerFrom(c *gin.Context) model.Caller {
	if v, ok := c.Get(PPCtxCallerKey); ok {
		if caller, ok := v.(model.Caller); ok {
			return caller
		}
	}
	return model.Caller{}
}
