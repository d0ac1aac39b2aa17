package remote

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CageChen/contentbridge/internal/remote/remotetest"
)

func newTestClient(t *testing.T, srv *remotetest.Server, token string) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL:        srv.URL(),
		Credentials:    StaticToken(token),
		CredentialName: "GITHUB_TOKEN",
	})
	require.NoError(t, err)
	return c
}

func requireKind(t *testing.T, err error, kind ErrorKind, status int) *Error {
	t.Helper()
	require.Error(t, err)
	var remoteErr *Error
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, kind, remoteErr.Kind, "kind")
	assert.Equal(t, status, remoteErr.StatusCode, "status")
	return remoteErr
}

func TestFetchFile(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	sha := srv.Put("acme", "docs", "README.md", "# Docs")

	c := newTestClient(t, srv, "")
	file, err := c.FetchFile(context.Background(), FileRef{Owner: "acme", Repo: "docs", Path: "README.md"})
	require.NoError(t, err)

	assert.Equal(t, "# Docs", file.Content)
	assert.Equal(t, sha, file.SHA)
	assert.Equal(t, "README.md", file.Path)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "application/vnd.github+json", reqs[0].Header.Get("Accept"))
	assert.Empty(t, reqs[0].Header.Get("Authorization"), "anonymous read must not send a token")
}

func TestFetchFile_SendsBearerToken(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.Put("acme", "docs", "README.md", "# Docs")

	c := newTestClient(t, srv, "s3cret")
	_, err := c.FetchFile(context.Background(), FileRef{Owner: "acme", Repo: "docs", Path: "README.md"})
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer s3cret", reqs[0].Header.Get("Authorization"))
}

func TestFetchFile_Directory(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.Put("acme", "docs", "guide/intro.md", "intro")
	srv.Put("acme", "docs", "guide/setup.md", "setup")

	c := newTestClient(t, srv, "")
	_, err := c.FetchFile(context.Background(), FileRef{Owner: "acme", Repo: "docs", Path: "guide"})
	requireKind(t, err, KindNotAFile, http.StatusBadRequest)
}

func TestFetchFile_NonFileEntry(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.Fail(http.StatusOK, `{"type":"submodule","name":"vendor","path":"vendor","sha":"abc"}`)

	c := newTestClient(t, srv, "")
	_, err := c.FetchFile(context.Background(), FileRef{Owner: "acme", Repo: "docs", Path: "vendor"})
	requireKind(t, err, KindNotAFile, http.StatusBadRequest)
}

func TestFetchFile_DefaultsToBase64(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.Fail(http.StatusOK, `{"type":"file","path":"a.txt","sha":"abc","content":"aGVsbG8="}`)

	c := newTestClient(t, srv, "")
	file, err := c.FetchFile(context.Background(), FileRef{Owner: "acme", Repo: "docs", Path: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", file.Content)
}

func TestFetchFile_NotFound(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv, "")
	_, err := c.FetchFile(context.Background(), FileRef{Owner: "acme", Repo: "docs", Path: "missing.md"})
	remoteErr := requireKind(t, err, KindNotFound, http.StatusNotFound)
	assert.Equal(t, "Not Found", remoteErr.Message)
}

func TestFetchFile_NonJSONErrorFallsBackToStatusText(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.Fail(http.StatusBadGateway, "<html>upstream down</html>")

	c := newTestClient(t, srv, "")
	_, err := c.FetchFile(context.Background(), FileRef{Owner: "acme", Repo: "docs", Path: "README.md"})
	remoteErr := requireKind(t, err, KindUpstream, http.StatusBadGateway)
	assert.Equal(t, "Bad Gateway", remoteErr.Message)
}

func TestWriteFile_MissingCredential(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv, "")
	_, err := c.WriteFile(context.Background(), WriteRequest{
		FileRef: FileRef{Owner: "acme", Repo: "docs", Path: "README.md"},
		Content: "x",
	})
	remoteErr := requireKind(t, err, KindMissingCredential, http.StatusInternalServerError)
	assert.Contains(t, remoteErr.Message, "GITHUB_TOKEN")
	assert.Zero(t, srv.RequestCount(), "no request may reach upstream without a credential")
}

func TestDeleteFile_MissingCredential(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv, "")
	err := c.DeleteFile(context.Background(), DeleteRequest{
		FileRef: FileRef{Owner: "acme", Repo: "docs", Path: "README.md"},
		SHA:     "abc",
	})
	requireKind(t, err, KindMissingCredential, http.StatusInternalServerError)
	assert.Zero(t, srv.RequestCount())
}

func TestDeleteFile_MissingSHA(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	err := c.DeleteFile(context.Background(), DeleteRequest{
		FileRef: FileRef{Owner: "acme", Repo: "docs", Path: "README.md"},
	})
	requireKind(t, err, KindMissingField, http.StatusBadRequest)
	assert.Zero(t, srv.RequestCount())
}

func TestReadThenWrite_IssuesNewRevision(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.RequireToken = true
	srv.Put("acme", "docs", "README.md", "# Docs")

	c := newTestClient(t, srv, "tok")
	ref := FileRef{Owner: "acme", Repo: "docs", Path: "README.md"}
	ctx := context.Background()

	file, err := c.FetchFile(ctx, ref)
	require.NoError(t, err)

	res, err := c.WriteFile(ctx, WriteRequest{FileRef: ref, Content: "# Docs v2", SHA: file.SHA})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SHA)
	assert.NotEqual(t, file.SHA, res.SHA)
	assert.Equal(t, "README.md", res.Path)
}

func TestWriteFile_StaleRevision(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	stale := srv.Put("acme", "docs", "README.md", "v1")
	srv.Put("acme", "docs", "README.md", "v2")

	c := newTestClient(t, srv, "tok")
	_, err := c.WriteFile(context.Background(), WriteRequest{
		FileRef: FileRef{Owner: "acme", Repo: "docs", Path: "README.md"},
		Content: "mine",
		SHA:     stale,
	})
	requireKind(t, err, KindConflict, http.StatusConflict)

	content, _ := srv.Content("acme", "docs", "README.md")
	assert.Equal(t, "v2", content)
}

func TestWriteFile_CreatesWithoutSHA(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	res, err := c.WriteFile(context.Background(), WriteRequest{
		FileRef: FileRef{Owner: "acme", Repo: "docs", Path: "empty.txt"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SHA)

	content, ok := srv.Content("acme", "docs", "empty.txt")
	require.True(t, ok)
	assert.Empty(t, content)
}

func TestRoundTrip(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	ref := FileRef{Owner: "acme", Repo: "docs", Path: "notes/ghi chú #1.md"}
	want := "# Tiêu đề ✓\n\n" + strings.Repeat("line with some text\n", 20)

	_, err := c.WriteFile(context.Background(), WriteRequest{FileRef: ref, Content: want})
	require.NoError(t, err)

	got, err := c.FetchFile(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, want, got.Content)
	assert.Equal(t, "notes/ghi chú #1.md", got.Path)
}

func TestLoadSaveDeleteScenario(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.Put("acme", "docs", "README.md", "# Docs")

	c := newTestClient(t, srv, "tok")
	ref := FileRef{Owner: "acme", Repo: "docs", Path: "README.md"}
	ctx := context.Background()

	loaded, err := c.FetchFile(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, "# Docs", loaded.Content)

	saved, err := c.WriteFile(ctx, WriteRequest{FileRef: ref, Content: "# Docs v2", SHA: loaded.SHA})
	require.NoError(t, err)

	require.NoError(t, c.DeleteFile(ctx, DeleteRequest{FileRef: ref, SHA: saved.SHA}))

	_, err = c.FetchFile(ctx, ref)
	requireKind(t, err, KindNotFound, http.StatusNotFound)
}

func TestDeleteFile_StaleRevision(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	stale := srv.Put("acme", "docs", "README.md", "v1")
	srv.Put("acme", "docs", "README.md", "v2")

	c := newTestClient(t, srv, "tok")
	err := c.DeleteFile(context.Background(), DeleteRequest{
		FileRef: FileRef{Owner: "acme", Repo: "docs", Path: "README.md"},
		SHA:     stale,
	})
	requireKind(t, err, KindConflict, http.StatusConflict)

	_, ok := srv.Content("acme", "docs", "README.md")
	assert.True(t, ok, "file must survive a rejected delete")
}

func TestClient_RecordsRequestDuration(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.Put("acme", "docs", "README.md", "# Docs")

	reg := prometheus.NewRegistry()
	c, err := NewClient(Options{BaseURL: srv.URL(), Registerer: reg})
	require.NoError(t, err)

	_, err = c.FetchFile(context.Background(), FileRef{Owner: "acme", Repo: "docs", Path: "README.md"})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "contentbridge_github_request_duration_seconds", families[0].GetName())
	labels := families[0].GetMetric()[0].GetLabel()
	got := map[string]string{}
	for _, l := range labels {
		got[l.GetName()] = l.GetValue()
	}
	assert.Equal(t, "/repos/{owner}/{repo}/contents/{path}", got["route"])
	assert.Equal(t, "200", got["status_code"])
}

func TestEncodePath(t *testing.T) {
	tests := []struct {
		input  string
		output string
	}{
		{"README.md", "README.md"},
		{"docs/guide.md", "docs/guide.md"},
		{"docs/my file.md", "docs/my%20file.md"},
		{"a?b/c#d.md", "a%3Fb/c%23d.md"},
		{"/leading/slash.md", "leading/slash.md"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.output, EncodePath(tt.input), "EncodePath(%q)", tt.input)
	}
}
