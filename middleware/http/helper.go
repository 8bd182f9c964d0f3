package middleware

import (
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// PathMatcher 判断请求路径是否命中跳过列表。
// "/health" 精确匹配；"/api/**" 匹配 /api 及其子路径；含 * ? [ 的按 path.Match 匹配。
type PathMatcher struct {
	exact    map[string]struct{}
	prefixes []string
	globs    []string
}

func NewPathMatcher(paths []string) *PathMatcher {
	pm := &PathMatcher{exact: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		switch prefix, ok := strings.CutSuffix(p, "/**"); {
		case ok:
			pm.prefixes = append(pm.prefixes, prefix)
		case strings.ContainsAny(p, "*?["):
			pm.globs = append(pm.globs, p)
		default:
			pm.exact[p] = struct{}{}
		}
	}
	return pm
}

func (pm *PathMatcher) Match(urlPath string) bool {
	if pm == nil {
		return false
	}
	if _, ok := pm.exact[urlPath]; ok {
		return true
	}
	for _, prefix := range pm.prefixes {
		if rest, ok := strings.CutPrefix(urlPath, prefix); ok && (rest == "" || rest[0] == '/') {
			return true
		}
	}
	for _, g := range pm.globs {
		if ok, _ := path.Match(g, urlPath); ok {
			return true
		}
	}
	return false
}

func shouldSkip(c *gin.Context, matcher *PathMatcher, skipFunc func(*gin.Context) bool) bool {
	if skipFunc != nil && skipFunc(c) {
		return true
	}
	return matcher.Match(c.Request.URL.Path)
}

// SubjectOrIP 限流标识：已认证请求按会话主体，否则按客户端 IP
func SubjectOrIP(c *gin.Context) string {
	if sess, _, ok := CurrentSession(c); ok && sess.Subject != "" {
		return "user:" + sess.Subject
	}
	return "ip:" + c.ClientIP()
}
