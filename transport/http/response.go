package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/vidchat/errors"
)

const successMsg = "success"

// Response 统一响应信封，code 与 HTTP 状态码一致
type Response[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data T      `json:"data,omitempty"`
}

// GinJSON 以 200 写入成功信封
func GinJSON(c *gin.Context, data any) {
	GinStatus(c, http.StatusOK, data)
}

// GinStatus 以指定的 2xx 状态写入成功信封，如异步任务的 202
func GinStatus(c *gin.Context, status int, data any) {
	if c == nil {
		return
	}
	c.JSON(status, &Response[any]{Code: status, Msg: successMsg, Data: data})
}

// GinError 按 errors.Error 的 code 设置 HTTP 状态码并中止请求。
// 401 的消息统一为 "unauthorized"，不透露具体哪项校验失败；
// 响应不带 metadata 与 cause。
func GinError(c *gin.Context, err error) {
	if c == nil {
		return
	}

	e := errors.FromError(err)
	if e == nil {
		e = errors.Internal("operation failed")
	}
	status := e.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}

	msg := e.Message
	switch {
	case status == http.StatusUnauthorized:
		msg = "unauthorized"
	case msg == "":
		msg = http.StatusText(status)
	}

	c.AbortWithStatusJSON(status, &Response[any]{Code: status, Msg: msg})
}
