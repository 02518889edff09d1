package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
)

// Key 是分区内条目的标识：大写方法 + 空格 + 归一化 URL。
type Key string

// KeyFor 按方法与 URL 构造 Key。scheme/host 转为小写，去掉 fragment，query 原样保留。
func KeyFor(method string, u *url.URL) Key {
	if method == "" {
		method = http.MethodGet
	}
	if u == nil {
		return Key(strings.ToUpper(method) + " ")
	}
	normalized := *u
	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)
	normalized.Fragment = ""
	normalized.RawFragment = ""
	if normalized.Path == "" && normalized.Host != "" {
		normalized.Path = "/"
	}
	return Key(strings.ToUpper(method) + " " + normalized.String())
}

// KeyForRequest 是 KeyFor 的便捷封装。
func KeyForRequest(req *http.Request) Key {
	if req == nil {
		return ""
	}
	return KeyFor(req.Method, req.URL)
}

// URL 返回 Key 中的 URL 部分。
func (k Key) URL() string {
	if idx := strings.IndexByte(string(k), ' '); idx >= 0 {
		return string(k)[idx+1:]
	}
	return string(k)
}

// Method 返回 Key 中的方法部分。
func (k Key) Method() string {
	if idx := strings.IndexByte(string(k), ' '); idx >= 0 {
		return string(k)[:idx]
	}
	return ""
}

// Digest 返回 Key 的 sha1 十六进制摘要，用作文件名或 redis key 片段。
func (k Key) Digest() string {
	sum := sha1.Sum([]byte(k))
	return hex.EncodeToString(sum[:])
}
