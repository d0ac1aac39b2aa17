// Package remotetest provides an in-memory stand-in for the GitHub
// repository contents API.
package remotetest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
)

type file struct {
	content []byte
	sha     string
}

type failure struct {
	status int
	body   string
}

// Server is a fake contents API. Every write issues a new sha and writes
// carrying a stale sha are rejected with 409, as GitHub does.
type Server struct {
	*httptest.Server

	// RequireToken makes PUT and DELETE answer 401 without a bearer token.
	RequireToken bool

	mu       sync.Mutex
	files    map[string]*file
	revision int
	requests []*http.Request
	failures []failure
}

// NewServer starts a fake contents API. Call Close when done.
func NewServer() *Server {
	s := &Server{files: make(map[string]*file)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the API root with a trailing slash.
func (s *Server) URL() string {
	return s.Server.URL + "/"
}

// Put seeds a file and returns its sha.
func (s *Server) Put(owner, repo, path, content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(key(owner, repo, path), []byte(content))
}

// Content returns the stored content of a file.
func (s *Server) Content(owner, repo, path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[key(owner, repo, path)]
	if !ok {
		return "", false
	}
	return string(f.content), true
}

// Fail makes the next request answer with the given status and raw body.
func (s *Server) Fail(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{status: status, body: body})
}

// Requests returns every request received so far.
func (s *Server) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

// RequestCount returns the number of requests received so far.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func key(owner, repo, path string) string {
	return owner + "/" + repo + "/" + strings.Trim(path, "/")
}

func (s *Server) store(k string, content []byte) string {
	s.revision++
	sum := sha1.Sum([]byte(fmt.Sprintf("%d:%s:%s", s.revision, k, content)))
	sha := hex.EncodeToString(sum[:])
	s.files[k] = &file{content: content, sha: sha}
	return sha
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, r.Clone(r.Context()))

	if len(s.failures) > 0 {
		f := s.failures[0]
		s.failures = s.failures[1:]
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.body))
		return
	}

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/repos/"), "/", 4)
	if len(parts) != 4 || parts[2] != "contents" {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	owner, repo, path := parts[0], parts[1], strings.Trim(parts[3], "/")
	k := key(owner, repo, path)

	switch r.Method {
	case http.MethodGet:
		s.get(w, owner, repo, path, k)
	case http.MethodPut:
		if !s.authorized(w, r) {
			return
		}
		s.put(w, r, path, k)
	case http.MethodDelete:
		if !s.authorized(w, r) {
			return
		}
		s.delete(w, r, path, k)
	default:
		writeMessage(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	}
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if !s.RequireToken || strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return true
	}
	writeMessage(w, http.StatusUnauthorized, "Bad credentials")
	return false
}

func (s *Server) get(w http.ResponseWriter, owner, repo, path, k string) {
	if f, ok := s.files[k]; ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"type":     "file",
			"encoding": "base64",
			"name":     baseName(path),
			"path":     path,
			"sha":      f.sha,
			"size":     len(f.content),
			"content":  wrapBase64(f.content),
		})
		return
	}

	prefix := key(owner, repo, path) + "/"
	var names []string
	for name := range s.files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	sort.Strings(names)
	listing := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		rel := strings.TrimPrefix(name, owner+"/"+repo+"/")
		listing = append(listing, map[string]interface{}{
			"type": "file",
			"name": baseName(rel),
			"path": rel,
			"sha":  s.files[name].sha,
		})
	}
	writeJSON(w, http.StatusOK, listing)
}

type writeBody struct {
	Message string  `json:"message"`
	Content *string `json:"content"`
	SHA     string  `json:"sha"`
}

func (s *Server) put(w http.ResponseWriter, r *http.Request, path, k string) {
	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == nil {
		writeMessage(w, http.StatusUnprocessableEntity, "Invalid request.")
		return
	}
	content, err := base64.StdEncoding.DecodeString(*body.Content)
	if err != nil {
		writeMessage(w, http.StatusUnprocessableEntity, "content is not valid Base64")
		return
	}

	status := http.StatusCreated
	if existing, ok := s.files[k]; ok {
		if body.SHA == "" {
			writeMessage(w, http.StatusUnprocessableEntity, `Invalid request. "sha" wasn't supplied.`)
			return
		}
		if body.SHA != existing.sha {
			writeMessage(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", path, body.SHA))
			return
		}
		status = http.StatusOK
	} else if body.SHA != "" {
		writeMessage(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", path, body.SHA))
		return
	}

	sha := s.store(k, content)
	writeJSON(w, status, map[string]interface{}{
		"content": map[string]interface{}{
			"type": "file",
			"name": baseName(path),
			"path": path,
			"sha":  sha,
		},
		"commit": map[string]interface{}{"message": body.Message},
	})
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request, path, k string) {
	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusUnprocessableEntity, "Invalid request.")
		return
	}
	existing, ok := s.files[k]
	if !ok {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	if body.SHA != existing.sha {
		writeMessage(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", path, body.SHA))
		return
	}
	delete(s.files, k)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"content": nil,
		"commit":  map[string]interface{}{"message": body.Message},
	})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"message":           message,
		"documentation_url": "https://docs.github.com/rest/repos/contents",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// wrapBase64 encodes like GitHub does, with a newline every 60 characters.
func wrapBase64(content []byte) string {
	enc := base64.StdEncoding.EncodeToString(content)
	var b strings.Builder
	for len(enc) > 60 {
		b.WriteString(enc[:60])
		b.WriteByte('\n')
		enc = enc[60:]
	}
	b.WriteString(enc)
	return b.String()
}
