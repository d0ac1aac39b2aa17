// Package form is the terminal rendition of the bridge's edit form: a small
// state machine that loads, saves and deletes one file through /api/file.
package form

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CageChen/contentbridge/internal/logger"
)

const defaultCommitMessage = "Update via GitHub bridge"

// Local guidance and fallback messages.
const (
	msgBusy         = "Another operation is in progress."
	msgLoadRequired = "Owner, repository and file path are required to load a file."
	msgSaveRequired = "Owner, repository and file path are required before saving."
	msgDelRequired  = "Owner, repository and file path are required before deleting."
	msgNeedSHA      = "Load the file before deleting it to fetch its current SHA."
	msgCancelled    = "Delete cancelled."
	msgLoadFailed   = "Could not load the file from GitHub."
	msgSaveFailed   = "Could not update the file on GitHub."
	msgDeleteFailed = "Could not delete the file on GitHub."
)

// ErrBusy is returned when an operation starts while another is running.
var ErrBusy = errors.New(msgBusy)

// Form holds what the user typed plus the revision of the loaded file.
// Operations snapshot the exported fields when they start.
type Form struct {
	Owner   string
	Repo    string
	Path    string
	Message string
	Content string

	// Confirm is asked before a delete. A nil Confirm declines.
	Confirm func(path string) bool

	baseURL string
	client  *http.Client
	logger  *zap.Logger

	mu     sync.Mutex
	busy   bool
	sha    string
	target string
	status string
}

// Option configures a Form.
type Option func(*Form)

// WithHTTPClient sets the client used to reach the bridge.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Form) { f.client = c }
}

// WithLogger sets the logger for transport failures.
func WithLogger(l *zap.Logger) Option {
	return func(f *Form) { f.logger = l }
}

// New creates a form talking to the bridge at baseURL, e.g.
// http://localhost:8080.
func New(baseURL string, opts ...Option) *Form {
	f := &Form{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Status returns the message of the last operation.
func (f *Form) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// SHA returns the revision of the loaded file, or "" when nothing is loaded
// for the current owner, repo and path.
func (f *Form) SHA() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revisionLocked(targetOf(f.Owner, f.Repo, f.Path))
}

// Busy reports whether an operation is running.
func (f *Form) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

type fileResponse struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
	Path    string `json:"path"`
}

type putRequest struct {
	Owner   string  `json:"owner"`
	Repo    string  `json:"repo"`
	Path    string  `json:"path"`
	Content string  `json:"content"`
	Message string  `json:"message"`
	SHA     *string `json:"sha"`
}

type deleteRequest struct {
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Path    string `json:"path"`
	Message string `json:"message"`
	SHA     string `json:"sha"`
}

// Load fetches the file and replaces Content with it.
func (f *Form) Load(ctx context.Context) error {
	owner, repo, path, ok := f.begin()
	if !ok {
		return ErrBusy
	}
	defer f.end()

	if owner == "" || repo == "" || path == "" {
		return f.failf(msgLoadRequired)
	}

	q := url.Values{}
	q.Set("owner", owner)
	q.Set("repo", repo)
	q.Set("path", path)

	var file fileResponse
	if err := f.call(ctx, http.MethodGet, "/api/file?"+q.Encode(), nil, &file, msgLoadFailed); err != nil {
		return f.fail(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Content = file.Content
	f.sha = file.SHA
	f.target = targetOf(owner, repo, path)
	f.status = fmt.Sprintf("Loaded %s.", file.Path)
	return nil
}

// Save writes Content back, sending the loaded revision if there is one.
func (f *Form) Save(ctx context.Context) error {
	owner, repo, path, ok := f.begin()
	if !ok {
		return ErrBusy
	}
	defer f.end()

	if owner == "" || repo == "" || path == "" {
		return f.failf(msgSaveRequired)
	}

	f.mu.Lock()
	req := putRequest{
		Owner:   owner,
		Repo:    repo,
		Path:    path,
		Content: f.Content,
		Message: strings.TrimSpace(f.Message),
	}
	if sha := f.revisionLocked(targetOf(owner, repo, path)); sha != "" {
		req.SHA = &sha
	}
	f.mu.Unlock()
	if req.Message == "" {
		req.Message = defaultCommitMessage
	}

	var res fileResponse
	if err := f.call(ctx, http.MethodPut, "/api/file", req, &res, msgSaveFailed); err != nil {
		return f.fail(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sha = res.SHA
	f.target = targetOf(owner, repo, path)
	f.status = fmt.Sprintf("Saved changes to %s.", res.Path)
	return nil
}

// Delete removes the loaded file after Confirm agrees. It never reaches the
// bridge without a revision loaded for the same path.
func (f *Form) Delete(ctx context.Context) error {
	owner, repo, path, ok := f.begin()
	if !ok {
		return ErrBusy
	}
	defer f.end()

	if owner == "" || repo == "" || path == "" {
		return f.failf(msgDelRequired)
	}

	f.mu.Lock()
	sha := f.revisionLocked(targetOf(owner, repo, path))
	message := f.Message
	f.mu.Unlock()
	if sha == "" {
		return f.failf(msgNeedSHA)
	}

	if f.Confirm == nil || !f.Confirm(path) {
		f.setStatus(msgCancelled)
		return nil
	}

	req := deleteRequest{Owner: owner, Repo: repo, Path: path, Message: message, SHA: sha}
	if err := f.call(ctx, http.MethodDelete, "/api/file", req, nil, msgDeleteFailed); err != nil {
		return f.fail(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Content = ""
	f.sha = ""
	f.target = ""
	f.status = fmt.Sprintf("Deleted %s from %s/%s.", path, owner, repo)
	return nil
}

// begin marks the form busy, clears the status and snapshots the target.
func (f *Form) begin() (owner, repo, path string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return "", "", "", false
	}
	f.busy = true
	f.status = ""
	return f.Owner, f.Repo, f.Path, true
}

func (f *Form) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
}

// revisionLocked returns the stored sha if it belongs to target, and drops it
// otherwise.
func (f *Form) revisionLocked(target string) string {
	if f.target != target {
		f.sha = ""
		f.target = ""
	}
	return f.sha
}

func (f *Form) setStatus(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *Form) failf(message string) error {
	f.setStatus(message)
	return errors.New(message)
}

func (f *Form) fail(err error) error {
	f.setStatus(err.Error())
	return err
}

// call sends body as JSON and decodes a 2xx answer into out. A failed answer
// becomes an error carrying the bridge's message, or fallback.
func (f *Form) call(ctx context.Context, method, path string, body, out interface{}, fallback string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("bridge request failed",
			zap.String(logger.FieldAction, method),
			zap.String(logger.FieldPath, path),
			zap.Error(err),
		)
		return errors.New(fallback)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return errors.New(fallback)
		}
		return errors.New(apiErr.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		f.logger.Warn("bridge answered with an unreadable body", zap.Error(err))
		return errors.New(fallback)
	}
	return nil
}

func targetOf(owner, repo, path string) string {
	return owner + "/" + repo + "/" + path
}
