package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/headless/detector"
	"github.com/Dev-pucci/FCW-Targeted/internal/listing"
)

func listingServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		page := r.URL.Query().Get("page")
		switch page {
		case "", "2":
			if page == "" {
				page = "1"
			}
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><body>
<div class="fwc-results-item"><h3>Doc %[1]s</h3>
<a href="/document-search/view/%[1]s/doc.pdf?sid=x"><img alt="PDF"></a>
<span class="fwc-chip">Approved: 1 July 2024</span></div>
</body></html>`, page)
		case "3":
			fmt.Fprint(w, `<html><body><p>No results</p></body></html>`)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFetcher(t *testing.T, srv *httptest.Server, cfg Config) *Fetcher {
	t.Helper()
	b, err := listing.NewBuilder(srv.URL+"/document-search?q=*", listing.Filters{})
	require.NoError(t, err)
	pf, err := NewFactory(cfg, b, nil).NewFetcher(2)
	require.NoError(t, err)
	return pf.(*Fetcher)
}

func TestFetcher_FetchPage(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	f := newFetcher(t, listingServer(t, &hits), Config{UserAgent: "test-agent", Timeout: time.Second})

	entries, err := f.FetchPage(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Doc 1", entries[0].Title)
	require.Equal(t, "/document-search/view/1/doc.pdf?sid=x", entries[0].PDFHref)
	require.Equal(t, 1, entries[0].Page)

	entries, err = f.FetchPage(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "Doc 2", entries[0].Title)

	// Revisiting the same page must hit the server again.
	_, err = f.FetchPage(context.Background(), 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, hits.Load())
}

func TestFetcher_EmptyPage(t *testing.T) {
	t.Parallel()

	f := newFetcher(t, listingServer(t, nil), Config{})
	entries, err := f.FetchPage(context.Background(), 3)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFetcher_ScriptShellIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><div id="app"></div><script src="/bundle.js"></script></body></html>`)
	}))
	t.Cleanup(srv.Close)

	f := newFetcher(t, srv, Config{})
	_, err := f.FetchPage(context.Background(), 1)
	require.ErrorIs(t, err, crawler.ErrFetch)
	require.ErrorIs(t, err, errNeedsRendering)
}

func TestFetcher_HTTPErrorIsFetchError(t *testing.T) {
	t.Parallel()

	f := newFetcher(t, listingServer(t, nil), Config{})
	_, err := f.FetchPage(context.Background(), 9)
	require.ErrorIs(t, err, crawler.ErrFetch)
	require.Contains(t, err.Error(), "503")
}

func TestFetcher_Canceled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	f := newFetcher(t, srv, Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.FetchPage(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcher_SendsWorkerUserAgent(t *testing.T) {
	t.Parallel()

	agents := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.UserAgent()
		fmt.Fprint(w, "<html></html>")
	}))
	t.Cleanup(srv.Close)

	f := newFetcher(t, srv, Config{UserAgent: "fcw-test"})
	_, err := f.FetchPage(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "fcw-test FCWWorker/2", <-agents)
}

func TestWorkerUserAgent_Default(t *testing.T) {
	t.Parallel()

	ua := WorkerUserAgent("", 7)
	require.True(t, strings.HasSuffix(ua, " FCWWorker/7"))
	require.Greater(t, len(ua), len(" FCWWorker/7"))
}

func TestConfigureHooks(t *testing.T) {
	t.Parallel()

	var (
		entries  []crawler.ListingEntry
		fetchErr error
	)
	hooks := &stubHooks{}
	configureHooks(hooks, detector.New(), 5, &entries, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{Body: []byte(`<div class="fwc-results-item"><h3>x</h3></div>`)})
	require.Len(t, entries, 1)
	require.Equal(t, 5, entries[0].Page)

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte(`<html><body><span class="fwc-input-search-icon"></span></body></html>`)})
	require.ErrorIs(t, fetchErr, errNeedsRendering)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.EqualError(t, fetchErr, "status 502: Bad Gateway")

	hooks.onError(nil, errors.New("dial tcp: refused"))
	require.EqualError(t, fetchErr, "dial tcp: refused")
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
