package middleware

import (
	midsec "DMSync/middleware/security"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
}

// Routes 按 RouteOpt 决定是否挂鉴权中间件
type Routes struct {
	r    gin.IRoutes
	auth gin.HandlerFunc
}

func NewRoutes(r gin.IRoutes, opts *midsec.Options) *Routes {
	return &Routes{r: r, auth: midsec.Middleware(opts)}
}

func (rt *Routes) handlers(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth {
		return []gin.HandlerFunc{rt.auth, handler}
	}
	return []gin.HandlerFunc{handler}
}

// 封装 POST
func (rt *Routes) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.r.POST(path, rt.handlers(handler, opt)...)
}

// 封装 GET
func (rt *Routes) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.r.GET(path, rt.handlers(handler, opt)...)
}

// 封装 DELETE
func (rt *Routes) DELETE(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.r.DELETE(path, rt.handlers(handler, opt)...)
}
