package simbrowser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/bidiload/bidi"
	"github.com/liuxd6825/bidiload/log"
)

var fixedNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	t       *testing.T
	session *bidi.Session
	pages   *httptest.Server
	mux     *http.ServeMux
	top     string
}

// newTestEnv starts a simulated browser and a page server with the given
// documents keyed by path.
func newTestEnv(t *testing.T, docs map[string]string) *testEnv {
	t.Helper()

	mux := http.NewServeMux()
	for path, body := range docs {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(body))
		})
	}
	pages := httptest.NewServer(mux)
	t.Cleanup(pages.Close)

	b := New(log.NewNullLogger(), WithClock(func() time.Time { return fixedNow }))
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	s, err := bidi.Connect(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), log.NewNullLogger(),
		bidi.WithCommandTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	tree, err := s.BrowsingContext.GetTree(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, tree, 1)

	return &testEnv{t: t, session: s, pages: pages, mux: mux, top: tree[0].Context}
}

type recorder struct {
	mu     sync.Mutex
	events []bidi.NavigationInfo
	names  []string
}

func (e *testEnv) record(events ...string) *recorder {
	e.t.Helper()
	r := &recorder{}
	for _, ev := range events {
		remove := e.session.AddEventListener(ev, func(method string, params []byte) {
			info, err := bidi.DecodeNavigationInfo(params)
			if !assert.NoError(e.t, err) {
				return
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, *info)
			r.names = append(r.names, method)
		})
		e.t.Cleanup(remove)
	}
	_, err := e.session.Subscribe(context.Background(), events)
	require.NoError(e.t, err)
	return r
}

func (r *recorder) snapshot() ([]string, []bidi.NavigationInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...), append([]bidi.NavigationInfo(nil), r.events...)
}

func (e *testEnv) evaluate(expr string, target bidi.ContextTarget) *bidi.RemoteValue {
	e.t.Helper()
	v, err := e.session.Script.Evaluate(context.Background(), expr, target, true)
	require.NoError(e.t, err)
	return v
}

func TestInitialTree(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	tree, err := e.session.BrowsingContext.GetTree(context.Background(), "", -1)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, aboutBlank, tree[0].URL)
	assert.False(t, tree[0].Parent.Valid)
	assert.Empty(t, tree[0].Children)
}

func TestNavigateLoadsFramesBeforeParent(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, map[string]string{
		"/outer": `<p>outer</p><iframe src="/inner"></iframe>`,
		"/inner": `<p>inner</p>`,
	})
	r := e.record(bidi.EventBrowsingContextLoad, bidi.EventBrowsingContextDOMContentLoaded)

	res, err := e.session.BrowsingContext.Navigate(context.Background(), e.top, e.pages.URL+"/outer", bidi.ReadinessStateComplete)
	require.NoError(t, err)

	// Events are dispatched before the reply that follows them.
	names, events := r.snapshot()
	require.Equal(t, []string{
		bidi.EventBrowsingContextDOMContentLoaded,
		bidi.EventBrowsingContextDOMContentLoaded,
		bidi.EventBrowsingContextLoad,
		bidi.EventBrowsingContextLoad,
	}, names)

	tree, err := e.session.BrowsingContext.GetTree(context.Background(), e.top, -1)
	require.NoError(t, err)
	require.Len(t, tree[0].Children, 1)
	child := tree[0].Children[0]
	assert.Equal(t, e.pages.URL+"/inner", child.URL)
	assert.Equal(t, e.top, child.Parent.String)

	frameLoad, rootLoad := events[2], events[3]
	assert.Equal(t, child.Context, frameLoad.Context)
	assert.Equal(t, e.top, rootLoad.Context)
	assert.Equal(t, res.Navigation, rootLoad.Navigation)
	assert.True(t, frameLoad.Navigation.Valid)
	assert.NotEqual(t, frameLoad.Navigation.String, rootLoad.Navigation.String)
	assert.Equal(t, fixedNow.UnixMilli(), rootLoad.Timestamp)
}

func TestNavigateReadinessStates(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, map[string]string{"/outer": `<p>outer</p><iframe src="/inner"></iframe>`})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	e.mux.HandleFunc("/inner", func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<p>inner</p>`))
	})
	r := e.record(bidi.EventBrowsingContextLoad, bidi.EventBrowsingContextDOMContentLoaded)

	// The frame cannot load until released, so nothing after the reply has
	// been emitted yet.
	res, err := e.session.BrowsingContext.Navigate(context.Background(), e.top, e.pages.URL+"/outer", bidi.ReadinessStateInteractive)
	require.NoError(t, err)
	names, events := r.snapshot()
	require.Equal(t, []string{bidi.EventBrowsingContextDOMContentLoaded}, names)
	assert.Equal(t, e.top, events[0].Context)
	assert.Equal(t, res.Navigation, events[0].Navigation)

	unblock()
	require.Eventually(t, func() bool {
		names, _ := r.snapshot()
		return len(names) == 4
	}, 5*time.Second, 10*time.Millisecond)
	names, events = r.snapshot()
	assert.Equal(t, []string{
		bidi.EventBrowsingContextDOMContentLoaded,
		bidi.EventBrowsingContextDOMContentLoaded,
		bidi.EventBrowsingContextLoad,
		bidi.EventBrowsingContextLoad,
	}, names)
	assert.NotEqual(t, e.top, events[2].Context, "the frame loads first")
	assert.Equal(t, e.top, events[3].Context)
	assert.Equal(t, res.Navigation, events[3].Navigation)

	res, err = e.session.BrowsingContext.Navigate(context.Background(), e.top, e.pages.URL+"/outer", bidi.ReadinessStateComplete)
	require.NoError(t, err)
	names, events = r.snapshot()
	require.Len(t, names, 8)
	assert.Equal(t, bidi.EventBrowsingContextLoad, names[7])
	assert.Equal(t, e.top, events[7].Context)
	assert.Equal(t, res.Navigation, events[7].Navigation)
}

func TestSelfEmbeddingFrameDepthIsCapped(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, map[string]string{"/self": `<iframe src="/self"></iframe>`})
	_, err := e.session.BrowsingContext.Navigate(context.Background(), e.top, e.pages.URL+"/self", bidi.ReadinessStateComplete)
	require.NoError(t, err)

	tree, err := e.session.BrowsingContext.GetTree(context.Background(), e.top, -1)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	depth := 0
	for node := tree[0]; len(node.Children) > 0; node = node.Children[0] {
		depth++
	}
	assert.Equal(t, maxFrameDepth, depth)
}

func TestCreateEmitsNoLoad(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	r := e.record(bidi.EventBrowsingContextLoad)

	for _, typ := range []bidi.CreateType{bidi.CreateTypeTab, bidi.CreateTypeWindow} {
		id, err := e.session.BrowsingContext.Create(context.Background(), typ, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}
	// A round trip flushes anything emitted by the create commands.
	e.evaluate("1", bidi.ContextTarget{Context: e.top})

	_, events := r.snapshot()
	assert.Empty(t, events)

	tree, err := e.session.BrowsingContext.GetTree(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, tree, 3)
}

func TestDocumentWriteReplacesDocument(t *testing.T) {
	t.Parallel()

	for _, sandbox := range []string{"", "isolated"} {
		sandbox := sandbox
		t.Run("sandbox="+sandbox, func(t *testing.T) {
			t.Parallel()

			e := newTestEnv(t, map[string]string{"/page": `<p>page</p><iframe src="about:blank"></iframe>`})
			res, err := e.session.BrowsingContext.Navigate(context.Background(), e.top, e.pages.URL+"/page", bidi.ReadinessStateComplete)
			require.NoError(t, err)

			r := e.record(bidi.EventBrowsingContextLoad)
			e.evaluate(`document.open(); document.write("<p>replaced</p>"); document.close();`,
				bidi.ContextTarget{Context: e.top, Sandbox: sandbox})
			e.evaluate("1", bidi.ContextTarget{Context: e.top})

			_, events := r.snapshot()
			require.Len(t, events, 1)
			assert.Equal(t, e.top, events[0].Context)
			assert.True(t, events[0].Navigation.Valid)
			assert.NotEqual(t, res.Navigation.String, events[0].Navigation.String)
			assert.Equal(t, e.pages.URL+"/page", events[0].URL)

			tree, err := e.session.BrowsingContext.GetTree(context.Background(), e.top, -1)
			require.NoError(t, err)
			assert.Empty(t, tree[0].Children, "the written document has no frames")
		})
	}
}

func TestReplaceStateDuringLoad(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, map[string]string{
		"/page": `<script>history.replaceState(null, "", "?replaced")</script>`,
	})
	r := e.record(bidi.EventBrowsingContextLoad)

	res, err := e.session.BrowsingContext.Navigate(context.Background(), e.top, e.pages.URL+"/page", bidi.ReadinessStateComplete)
	require.NoError(t, err)

	_, events := r.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, res.Navigation, events[0].Navigation)
	assert.Equal(t, e.pages.URL+"/page?replaced", events[0].URL)

	href, err := e.evaluate("location.href", bidi.ContextTarget{Context: e.top}).String()
	require.NoError(t, err)
	assert.Equal(t, e.pages.URL+"/page?replaced", href)
}

func TestBaseTagResolvesFrames(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, map[string]string{
		"/a/page":  `<base href="/b/"><iframe src="frame"></iframe>`,
		"/b/frame": `<p>frame</p>`,
	})
	r := e.record(bidi.EventBrowsingContextLoad)

	_, err := e.session.BrowsingContext.Navigate(context.Background(), e.top, e.pages.URL+"/a/page", bidi.ReadinessStateComplete)
	require.NoError(t, err)

	_, events := r.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, e.pages.URL+"/b/frame", events[0].URL)
	assert.Equal(t, e.pages.URL+"/a/page", events[1].URL)
}

func TestSubscriptionScopedToContext(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, map[string]string{"/page": `<p>page</p>`})
	other, err := e.session.BrowsingContext.Create(context.Background(), bidi.CreateTypeTab, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []string
	remove := e.session.AddEventListener(bidi.EventBrowsingContextLoad, func(_ string, params []byte) {
		info, err := bidi.DecodeNavigationInfo(params)
		if assert.NoError(t, err) {
			mu.Lock()
			got = append(got, info.Context)
			mu.Unlock()
		}
	})
	defer remove()

	_, err = e.session.Subscribe(context.Background(), []string{bidi.EventBrowsingContextLoad}, other)
	require.NoError(t, err)

	for _, id := range []string{e.top, other} {
		_, err := e.session.BrowsingContext.Navigate(context.Background(), id, e.pages.URL+"/page", bidi.ReadinessStateComplete)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{other}, got)
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	ctx := context.Background()

	err := e.session.Unsubscribe(ctx, []string{bidi.EventBrowsingContextLoad})
	assert.True(t, bidi.IsErrorCode(err, bidi.ErrorCodeInvalidArgument), "got %v", err)

	id, err := e.session.Subscribe(ctx, []string{"browsingContext"})
	require.NoError(t, err)
	require.NoError(t, e.session.Unsubscribe(ctx, []string{bidi.EventBrowsingContextLoad}))

	err = e.session.UnsubscribeByID(ctx, "nope")
	assert.True(t, bidi.IsErrorCode(err, bidi.ErrorCodeInvalidArgument), "got %v", err)
	require.NoError(t, e.session.UnsubscribeByID(ctx, id))

	_, err = e.session.Subscribe(ctx, []string{"network.beforeRequestSent"})
	assert.True(t, bidi.IsErrorCode(err, bidi.ErrorCodeInvalidArgument), "got %v", err)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	target := bidi.ContextTarget{Context: e.top}

	tests := []struct {
		expr      string
		wantType  string
		wantValue string
	}{
		{expr: "1 + 1", wantType: "number", wantValue: "2"},
		{expr: "1.5", wantType: "number", wantValue: "1.5"},
		{expr: "0 / 0", wantType: "number", wantValue: `"NaN"`},
		{expr: "-0", wantType: "number", wantValue: `"-0"`},
		{expr: `"a" + "b"`, wantType: "string", wantValue: `"ab"`},
		{expr: "true", wantType: "boolean", wantValue: "true"},
		{expr: "undefined", wantType: "undefined"},
		{expr: "null", wantType: "null"},
		{expr: "({})", wantType: "object"},
		{expr: "[1]", wantType: "array"},
		{expr: "() => 1", wantType: "function"},
		{expr: "Promise.resolve(7)", wantType: "number", wantValue: "7"},
		{expr: "Date.now()", wantType: "number", wantValue: "1709294400000"},
		{expr: "document.readyState", wantType: "string", wantValue: `"complete"`},
	}
	for _, tt := range tests {
		v := e.evaluate(tt.expr, target)
		assert.Equal(t, tt.wantType, v.Type, tt.expr)
		if tt.wantValue != "" {
			assert.JSONEq(t, tt.wantValue, string(v.Value), tt.expr)
		}
	}
}

func TestEvaluateSandboxesShareDocument(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := e.session.Script.Evaluate(ctx, "var marker = 1", bidi.ContextTarget{Context: e.top}, false)
	require.NoError(t, err)

	v := e.evaluate("typeof marker", bidi.ContextTarget{Context: e.top, Sandbox: "box"})
	s, err := v.String()
	require.NoError(t, err)
	assert.Equal(t, "undefined", s, "sandbox globals are isolated")

	v = e.evaluate("document.URL", bidi.ContextTarget{Context: e.top, Sandbox: "box"})
	s, err = v.String()
	require.NoError(t, err)
	assert.Equal(t, aboutBlank, s)
}

func TestEvaluateException(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	ctx := context.Background()
	target := bidi.ContextTarget{Context: e.top}

	_, err := e.session.Script.Evaluate(ctx, `throw new Error("boom")`, target, false)
	var exc *bidi.EvaluateException
	require.True(t, errors.As(err, &exc), "got %v", err)
	assert.Equal(t, "Error: boom", exc.Details.Text)
	assert.Equal(t, "error", exc.Details.Exception.Type)

	_, err = e.session.Script.Evaluate(ctx, `Promise.reject("nope")`, target, true)
	require.True(t, errors.As(err, &exc), "got %v", err)
	assert.Equal(t, "nope", exc.Details.Text)

	_, err = e.session.Script.Evaluate(ctx, `)(`, target, false)
	require.True(t, errors.As(err, &exc), "got %v", err)
	assert.Contains(t, exc.Details.Text, "SyntaxError")
}

func TestProtocolErrors(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, map[string]string{"/page": `<iframe></iframe>`})
	ctx := context.Background()

	_, err := e.session.BrowsingContext.Navigate(ctx, "missing", e.pages.URL+"/page", bidi.ReadinessStateNone)
	assert.True(t, bidi.IsErrorCode(err, bidi.ErrorCodeNoSuchFrame), "got %v", err)

	_, err = e.session.BrowsingContext.Navigate(ctx, e.top, "::not a url", bidi.ReadinessStateNone)
	assert.True(t, bidi.IsErrorCode(err, bidi.ErrorCodeInvalidArgument), "got %v", err)

	_, err = e.session.BrowsingContext.Create(ctx, bidi.CreateType("popup"), nil)
	assert.True(t, bidi.IsErrorCode(err, bidi.ErrorCodeInvalidArgument), "got %v", err)

	err = e.session.Execute(ctx, "browsingContext.traverseHistory", nil, nil)
	assert.True(t, bidi.IsErrorCode(err, bidi.ErrorCodeUnknownCommand), "got %v", err)

	_, err = e.session.BrowsingContext.Navigate(ctx, e.top, e.pages.URL+"/page", bidi.ReadinessStateComplete)
	require.NoError(t, err)
	tree, err := e.session.BrowsingContext.GetTree(ctx, e.top, -1)
	require.NoError(t, err)
	require.Len(t, tree[0].Children, 1)
	err = e.session.BrowsingContext.Close(ctx, tree[0].Children[0].Context)
	assert.True(t, bidi.IsErrorCode(err, bidi.ErrorCodeInvalidArgument), "got %v", err)
}

func TestNavigateWaitNone(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, map[string]string{"/page": `<p>page</p>`})
	r := e.record(bidi.EventBrowsingContextLoad)

	res, err := e.session.BrowsingContext.Navigate(context.Background(), e.top, e.pages.URL+"/page", bidi.ReadinessStateNone)
	require.NoError(t, err)
	e.evaluate("1", bidi.ContextTarget{Context: e.top})

	_, events := r.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, res.Navigation, events[0].Navigation)
}

func TestReload(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, map[string]string{"/page": `<p>page</p>`})
	ctx := context.Background()
	first, err := e.session.BrowsingContext.Navigate(ctx, e.top, e.pages.URL+"/page", bidi.ReadinessStateComplete)
	require.NoError(t, err)

	r := e.record(bidi.EventBrowsingContextLoad)
	res, err := e.session.BrowsingContext.Reload(ctx, e.top, bidi.ReadinessStateComplete)
	require.NoError(t, err)
	assert.NotEqual(t, first.Navigation, res.Navigation)

	_, events := r.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, res.Navigation, events[0].Navigation)
	assert.Equal(t, e.pages.URL+"/page", events[0].URL)
}

func TestDecodeDataURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "data:text/html,<p>hi%20there</p>", want: "<p>hi there</p>"},
		{in: "data:text/html;base64,PHA+aGk8L3A+", want: "<p>hi</p>"},
		{in: "data:text/html", wantErr: true},
	}
	for _, tt := range tests {
		got, err := decodeDataURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, string(got))
	}
}
