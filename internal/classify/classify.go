// Package classify 将被拦截的请求划分为 Document、Image、ExternalAsset、
// StaticAsset 四类，供策略选择器决定缓存策略与目标分区。
package classify

import (
	"net"
	"net/http"
	"path"
	"strings"
)

// Class 是请求的分类结果。
type Class string

const (
	Document      Class = "document"
	Image         Class = "image"
	ExternalAsset Class = "external"
	StaticAsset   Class = "static"
)

// DefaultCDNHints 是判定外部静态资源的主机名片段。
var DefaultCDNHints = []string{"cdn", "googleapis", "cdnjs", "jsdelivr"}

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".svg":  {},
	".ico":  {},
}

var extensionSchemes = map[string]struct{}{
	"chrome-extension":     {},
	"moz-extension":        {},
	"safari-web-extension": {},
}

// Classifier 绑定作用域的主机名与 CDN 提示列表。
type Classifier struct {
	servingHost string
	hints       []string
}

// New 构造 Classifier；hints 为空时使用 DefaultCDNHints。
func New(servingHost string, hints []string) Classifier {
	if len(hints) == 0 {
		hints = DefaultCDNHints
	}
	normalized := make([]string, 0, len(hints))
	for _, hint := range hints {
		hint = strings.ToLower(strings.TrimSpace(hint))
		if hint != "" {
			normalized = append(normalized, hint)
		}
	}
	return Classifier{servingHost: hostname(servingHost), hints: normalized}
}

// Classify 按 Document > Image > ExternalAsset > StaticAsset 的优先级返回首个匹配的分类。
func (c Classifier) Classify(req *http.Request) Class {
	switch {
	case isDocument(req):
		return Document
	case isImage(req):
		return Image
	case c.isExternal(req):
		return ExternalAsset
	default:
		return StaticAsset
	}
}

// Classify 是 New(servingHost, nil).Classify(req) 的便捷封装。
func Classify(req *http.Request, servingHost string) Class {
	return New(servingHost, nil).Classify(req)
}

// Eligible 报告请求是否应进入缓存策略：只处理 GET，且跳过浏览器扩展协议。
func Eligible(req *http.Request) bool {
	if req == nil || req.Method != http.MethodGet {
		return false
	}
	if req.URL != nil {
		if _, ok := extensionSchemes[strings.ToLower(req.URL.Scheme)]; ok {
			return false
		}
	}
	return true
}

func isDocument(req *http.Request) bool {
	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		return true
	}
	p := requestPath(req)
	return p == "" || p == "/" || strings.HasSuffix(p, "/") || strings.HasSuffix(p, ".html")
}

func isImage(req *http.Request) bool {
	if _, ok := imageExtensions[strings.ToLower(path.Ext(requestPath(req)))]; ok {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "image/")
}

func (c Classifier) isExternal(req *http.Request) bool {
	if req.URL == nil {
		return false
	}
	host := hostname(req.URL.Host)
	if host == "" {
		return false
	}
	// 与浏览器中的判断一致：目标主机名包含当前主机名即视为同源。
	if c.servingHost != "" && strings.Contains(host, c.servingHost) {
		return false
	}
	for _, hint := range c.hints {
		if strings.Contains(host, hint) {
			return true
		}
	}
	return false
}

func requestPath(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	return req.URL.Path
}

// hostname 去掉端口并转为小写。
func hostname(hostport string) string {
	host := strings.ToLower(strings.TrimSpace(hostport))
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
