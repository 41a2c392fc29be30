package page

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHTML = `<!DOCTYPE html>
<html lang="cs">
<head>
	<title> Example shop </title>
	<script src="/static/jquery-3.6.0.min.js"></script>
</head>
<body>
	<a href="/about?ref=nav#team">About</a>
	<a href="https://another.cz/">Another</a>
	<a href="">Empty</a>
	<p>Hello world</p>
</body>
</html>`

func TestDocumentQueries(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument("https://www.example.cz/shop/", 200, http.Header{"Server": {"nginx"}}, []byte(testHTML), nil)
	require.NoError(t, err)

	ctx := context.Background()

	title, err := doc.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Example shop", title)

	scripts, err := doc.QueryAll(ctx, "script[src]")
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "script", scripts[0].Tag)
	src, ok := scripts[0].Attr("src")
	assert.True(t, ok)
	assert.Equal(t, "/static/jquery-3.6.0.min.js", src)

	_, err = doc.QueryAll(ctx, "a[[")
	assert.Error(t, err)

	var out any
	assert.ErrorIs(t, doc.Evaluate(ctx, "window.jQuery", &out), ErrEvaluateUnsupported)
	assert.Equal(t, "nginx", doc.Headers().Get("Server"))
}

func TestLinksResolvesRelative(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument("https://www.example.cz/shop/", 200, nil, []byte(testHTML), nil)
	require.NoError(t, err)

	links, err := Links(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.example.cz/about?ref=nav#team",
		"https://another.cz/",
	}, links)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://www.example.cz/a/b")
	require.NoError(t, err)

	assert.Equal(t, "https://www.example.cz/a/c", Resolve(base, "c"))
	assert.Equal(t, "https://cdn.example.cz/x.js", Resolve(base, "//cdn.example.cz/x.js"))
	assert.Equal(t, "http://other.cz/", Resolve(base, " http://other.cz/ "))
	assert.Equal(t, "", Resolve(base, ""))
	assert.Equal(t, "", Resolve(base, "http://[::1"))
}

func TestCollyFetcherFetch(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/home", http.StatusFound)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "abc", Path: "/"})
		w.Header().Set("X-Powered-By", "PHP/8.2.1")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(testHTML))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html><head><title>Not found</title></head></html>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	fetcher, err := NewCollyFetcher(Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer fetcher.Close()

	t.Run("follows redirects", func(t *testing.T) {
		p, err := fetcher.Fetch(context.Background(), server.URL+"/")
		require.NoError(t, err)
		defer p.Close()

		assert.Equal(t, server.URL+"/home", p.URL())
		assert.Equal(t, http.StatusOK, p.StatusCode())
		assert.Equal(t, "PHP/8.2.1", p.Headers().Get("X-Powered-By"))

		title, err := p.Title(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Example shop", title)

		cookies, err := p.Cookies(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, cookies)
		assert.Equal(t, "PHPSESSID", cookies[0].Name)
	})

	t.Run("error status still yields a page", func(t *testing.T) {
		p, err := fetcher.Fetch(context.Background(), server.URL+"/missing")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, p.StatusCode())
	})

	t.Run("unreachable host fails", func(t *testing.T) {
		_, err := fetcher.Fetch(context.Background(), "http://127.0.0.1:1/")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrFetch))
	})
}
