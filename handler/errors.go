package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/TIANLI0/StreetGen/middleware"
	"github.com/TIANLI0/StreetGen/model"
	"github.com/TIANLI0/StreetGen/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor 将服务层错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotReady), errors.Is(err, service.ErrLoading), errors.Is(err, service.ErrQueueTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrOriginalRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError 记录并返回错误，traceback 为错误包装链，会暴露内部信息，仅在配置开启时返回
func abortWithError(c *gin.Context, msg string, err error, traceback bool) {
	status := statusFor(err)
	middleware.LoggerFrom(c).Error(msg,
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Error(err))

	resp := model.ErrorResponse{Error: err.Error()}
	if traceback && status == http.StatusInternalServerError {
		resp.Traceback = errorChain(err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// errorChain 从外到内逐层列出被包装的错误
func errorChain(err error) string {
	var lines []string
	var walk func(e error, depth int)
	walk = func(e error, depth int) {
		for e != nil {
			lines = append(lines, strings.Repeat("  ", depth)+fmt.Sprintf("%T: %s", e, e.Error()))
			switch u := e.(type) {
			case interface{ Unwrap() []error }:
				for _, inner := range u.Unwrap() {
					walk(inner, depth+1)
				}
				return
			default:
				e = errors.Unwrap(e)
			}
		}
	}
	walk(err, 0)
	return strings.Join(lines, "\n")
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, model.ErrorResponse{Error: msg})
}
