package gateway

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (s *Server) viewerClient() *http.Client {
	timeout := time.Duration(s.deps.Config.Viewer.HTTPTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// handleOnlinePreview forwards a preview request to kkFileView. The
// filename inside file_url gets an 8-hex token appended first, so the
// viewer's cache never serves a stale render of a re-uploaded file.
func (s *Server) handleOnlinePreview(w http.ResponseWriter, r *http.Request) {
	base := s.deps.Config.Viewer.BaseURL
	if base == "" {
		http.Error(w, "viewer not configured", http.StatusServiceUnavailable)
		return
	}
	fileURL := r.URL.Query().Get("file_url")
	if fileURL == "" {
		http.Error(w, "file_url required", http.StatusBadRequest)
		return
	}

	busted := cacheBustFilename(fileURL)
	encoded := url.QueryEscape(base64.StdEncoding.EncodeToString([]byte(busted)))
	target := strings.TrimRight(base, "/") + "/onlinePreview?url=" + encoded

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		http.Error(w, "bad viewer url", http.StatusBadGateway)
		return
	}
	resp, err := s.viewerClient().Do(req)
	if err != nil {
		s.log.Warn("viewer unreachable", "error", err)
		http.Error(w, "viewer unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	copyProxyResponse(w, resp)
}

// handleViewerProxy streams any other kkFileView asset through unchanged.
func (s *Server) handleViewerProxy(w http.ResponseWriter, r *http.Request) {
	base := s.deps.Config.Viewer.BaseURL
	if base == "" {
		http.Error(w, "viewer not configured", http.StatusServiceUnavailable)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/kkfileview")
	target := strings.TrimRight(base, "/") + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "bad viewer url", http.StatusBadGateway)
		return
	}
	copyProxyHeaders(req.Header, r.Header)

	resp, err := s.viewerClient().Do(req)
	if err != nil {
		http.Error(w, "viewer unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	copyProxyResponse(w, resp)
}

// cacheBustFilename appends "_<8hex>" to the filename component of rawURL,
// before the extension.
func cacheBustFilename(rawURL string) string {
	slash := strings.LastIndex(rawURL, "/")
	dir, name := "", rawURL
	if slash >= 0 {
		dir, name = rawURL[:slash+1], rawURL[slash+1:]
	}
	token := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s%s_%s%s", dir, stem, token, ext)
}

// copyProxyHeaders forwards request headers, dropping hop-by-hop and
// credential-bearing ones.
func copyProxyHeaders(dst, src http.Header) {
	for key, values := range src {
		switch http.CanonicalHeaderKey(key) {
		case "Host", "Cookie", "Authorization", "Connection":
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func copyProxyResponse(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
