// Package remote talks to the GitHub repository contents API on behalf of the
// bridge: fetching, writing and deleting a single file.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v58/github"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the public GitHub REST API root.
	DefaultBaseURL = "https://api.github.com/"

	mediaTypeJSON = "application/vnd.github+json"

	defaultUpdateMessage = "Update %s via GitHub Content Bridge"
	defaultDeleteMessage = "Delete %s via GitHub Content Bridge"
)

// Credentials resolves the GitHub token for one call. An empty token means
// the call goes out anonymously.
type Credentials interface {
	Token() string
}

// StaticToken is a fixed credential.
type StaticToken string

// Token returns the token itself.
func (t StaticToken) Token() string { return string(t) }

// FileRef identifies a file in a repository.
type FileRef struct {
	Owner string
	Repo  string
	Path  string
}

// File is the latest known state of a file.
type File struct {
	FileRef
	Content string
	SHA     string
}

// WriteRequest creates or replaces a file. An empty SHA creates the file.
type WriteRequest struct {
	FileRef
	Content string
	Message string
	SHA     string
}

// WriteResult is what upstream reports after a successful write.
type WriteResult struct {
	SHA  string
	Path string
}

// DeleteRequest removes a file at the given revision.
type DeleteRequest struct {
	FileRef
	Message string
	SHA     string
}

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, DefaultBaseURL when empty.
	BaseURL string
	// Credentials supplies the token; nil means anonymous.
	Credentials Credentials
	// CredentialName names the credential in MissingCredential messages,
	// e.g. "GITHUB_TOKEN".
	CredentialName string
	// Transport is the base round tripper, http.DefaultTransport when nil.
	Transport http.RoundTripper
	// Registerer receives request duration metrics when non-nil.
	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

// Client performs the three file operations against GitHub.
type Client struct {
	gh             *github.Client
	creds          Credentials
	credentialName string
}

// NewClient creates a Client. The underlying http.Client has no timeout.
func NewClient(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	creds := opts.Credentials
	if creds == nil {
		creds = StaticToken("")
	}

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.Registerer != nil {
		transport = instrumentTransport(transport, logger, opts.Registerer)
	}

	gh := github.NewClient(&http.Client{Transport: &authTransport{base: transport}})

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse GitHub API url %q", baseURL)
	}
	gh.BaseURL = u

	return &Client{
		gh:             gh,
		creds:          creds,
		credentialName: opts.CredentialName,
	}, nil
}

// FetchFile reads a file and decodes its content as UTF-8 text. Reads go out
// anonymously when no token is configured.
func (c *Client) FetchFile(ctx context.Context, ref FileRef) (*File, error) {
	ctx = withToken(ctx, c.creds.Token())

	req, err := c.newRequest(http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := c.do(ctx, req, &raw); err != nil {
		return nil, err
	}

	result, err := decodeContents(raw)
	if err != nil {
		return nil, err
	}

	switch r := result.(type) {
	case directoryListing:
		return nil, NewNotAFileError("the requested path is a directory, not a file")
	case fileEntry:
		if r.GetType() != "file" {
			return nil, NewNotAFileError("the requested path is not a file")
		}
		if r.Encoding == nil {
			r.Encoding = github.String("base64")
		}
		content, err := r.GetContent()
		if err != nil {
			return nil, errors.Wrap(err, "decode file content")
		}
		path := r.GetPath()
		if path == "" {
			path = ref.Path
		}
		return &File{
			FileRef: FileRef{Owner: ref.Owner, Repo: ref.Repo, Path: path},
			Content: content,
			SHA:     r.GetSHA(),
		}, nil
	default:
		return nil, errors.Errorf("unhandled contents result %T", result)
	}
}

// WriteFile creates or updates a file. It fails with KindMissingCredential
// before any network call when no token is configured.
func (c *Client) WriteFile(ctx context.Context, w WriteRequest) (*WriteResult, error) {
	token := c.creds.Token()
	if token == "" {
		return nil, NewMissingCredentialError(c.credentialName)
	}

	message := w.Message
	if message == "" {
		message = fmt.Sprintf(defaultUpdateMessage, w.Path)
	}
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(w.Content),
	}
	if w.SHA != "" {
		opts.SHA = github.String(w.SHA)
	}

	req, err := c.newRequest(http.MethodPut, w.FileRef, opts)
	if err != nil {
		return nil, err
	}

	var resp github.RepositoryContentResponse
	if err := c.do(withToken(ctx, token), req, &resp); err != nil {
		return nil, err
	}
	if resp.Content == nil {
		return nil, errors.New("github write response has no content metadata")
	}

	return &WriteResult{
		SHA:  resp.Content.GetSHA(),
		Path: resp.Content.GetPath(),
	}, nil
}

// DeleteFile removes a file. The sha is sent so upstream can reject the
// delete when the file changed since it was loaded.
func (c *Client) DeleteFile(ctx context.Context, d DeleteRequest) error {
	token := c.creds.Token()
	if token == "" {
		return NewMissingCredentialError(c.credentialName)
	}
	if d.SHA == "" {
		return NewMissingFieldError("sha is required to delete a file")
	}

	message := d.Message
	if message == "" {
		message = fmt.Sprintf(defaultDeleteMessage, d.Path)
	}
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		SHA:     github.String(d.SHA),
	}

	req, err := c.newRequest(http.MethodDelete, d.FileRef, opts)
	if err != nil {
		return err
	}
	return c.do(withToken(ctx, token), req, nil)
}

func (c *Client) newRequest(method string, ref FileRef, body interface{}) (*http.Request, error) {
	req, err := c.gh.NewRequest(method, contentsURL(ref), body)
	if err != nil {
		return nil, errors.Wrap(err, "build github request")
	}
	req.Header.Set("Accept", mediaTypeJSON)
	return req, nil
}

func (c *Client) do(ctx context.Context, req *http.Request, v interface{}) error {
	if _, err := c.gh.Do(ctx, req, v); err != nil {
		return translateError(err)
	}
	return nil
}

// translateError turns go-github's response errors into *Error with the
// upstream status kept verbatim. Transport failures are wrapped and left for
// the caller to treat as unexpected.
func translateError(err error) error {
	var (
		respErr  *github.ErrorResponse
		rateErr  *github.RateLimitError
		abuseErr *github.AbuseRateLimitError
	)
	switch {
	case errors.As(err, &respErr):
		return responseError(respErr.Response, respErr.Message, err)
	case errors.As(err, &rateErr):
		return responseError(rateErr.Response, rateErr.Message, err)
	case errors.As(err, &abuseErr):
		return responseError(abuseErr.Response, abuseErr.Message, err)
	default:
		return errors.Wrap(err, "github request")
	}
}

func responseError(resp *http.Response, bodyMessage string, cause error) error {
	if resp == nil {
		return errors.Wrap(cause, "github request")
	}
	return NewUpstreamError(resp.StatusCode, upstreamMessage(bodyMessage, statusText(resp)), cause)
}

func contentsURL(ref FileRef) string {
	return fmt.Sprintf("repos/%s/%s/contents/%s",
		url.PathEscape(ref.Owner), url.PathEscape(ref.Repo), EncodePath(ref.Path))
}

// EncodePath percent-encodes every slash-separated segment of p on its own,
// so the slashes survive as separators.
func EncodePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// contentsResult is what the contents endpoint answers with: either a single
// entry or, for directories, a listing.
type contentsResult interface {
	isContentsResult()
}

type fileEntry struct {
	*github.RepositoryContent
}

type directoryListing []*github.RepositoryContent

func (fileEntry) isContentsResult()        {}
func (directoryListing) isContentsResult() {}

func decodeContents(raw json.RawMessage) (contentsResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var listing directoryListing
		if err := json.Unmarshal(trimmed, &listing); err != nil {
			return nil, errors.Wrap(err, "decode directory listing")
		}
		return listing, nil
	}

	entry := new(github.RepositoryContent)
	if err := json.Unmarshal(trimmed, entry); err != nil {
		return nil, errors.Wrap(err, "decode file entry")
	}
	return fileEntry{entry}, nil
}
