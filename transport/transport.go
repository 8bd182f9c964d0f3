package transport

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/kochabx/vidchat/errors"
)

// ErrInvalidAddress 监听地址不合法
var ErrInvalidAddress = errors.New(500, "invalid listen address")

// Server 由 app 统一启动与优雅关闭
type Server interface {
	// Run 阻塞直到服务停止
	Run() error
	Shutdown(context.Context) error
}

// ValidateAddress 校验 host:port 形式的监听地址，host 可省略，端口 0 表示随机端口
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ErrInvalidAddress.WithReason("format").WithCause(err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return ErrInvalidAddress.WithReason("port")
	}
	if host != "" && net.ParseIP(host) == nil && !validHostname(host) {
		return ErrInvalidAddress.WithReason("host")
	}
	return nil
}

func validHostname(host string) bool {
	if len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	return true
}
