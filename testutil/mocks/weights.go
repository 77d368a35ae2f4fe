// WeightServer 权重下载的测试模拟实现。
//
// 支持自定义响应体与前 N 次请求失败的错误注入。
package mocks

import (
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
)

// WeightServer 按文件名提供假权重的 HTTP 服务
type WeightServer struct {
	mu       sync.Mutex
	body     []byte
	failures int
	hits     map[string]int

	// URL 服务地址，Start 之后可用
	URL string
}

// NewWeightServer 创建 WeightServer
func NewWeightServer() *WeightServer {
	return &WeightServer{
		body: []byte("fake weights"),
		hits: make(map[string]int),
	}
}

// WithBody 设置权重内容
func (s *WeightServer) WithBody(body []byte) *WeightServer {
	s.body = body
	return s
}

// WithFailures 前 n 次请求返回 503
func (s *WeightServer) WithFailures(n int) *WeightServer {
	s.failures = n
	return s
}

// Start 启动服务，测试结束时关闭
func (s *WeightServer) Start(t testing.TB) *WeightServer {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(srv.Close)
	s.URL = srv.URL
	return s
}

func (s *WeightServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[path.Base(r.URL.Path)]++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	body := s.body
	s.mu.Unlock()

	if fail {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write(body)
}

// Hits 返回某个文件名收到的请求数，包括失败的请求
func (s *WeightServer) Hits(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[name]
}
