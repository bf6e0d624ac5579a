// Package load checks the browsingContext.load event.
package load

import (
	"errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/bidiload/bidi"
	"github.com/liuxd6825/bidiload/harness"
)

const event = bidi.EventBrowsingContextLoad

// Scenarios returns every load event scenario in a stable order.
func Scenarios() []harness.Scenario {
	return []harness.Scenario{
		{Name: "unsubscribe", Run: unsubscribe},
		{Name: "subscribe", Run: subscribe},
		{Name: "timestamp", Run: timestamp},
		{Name: "iframe", Run: iframe},
		{Name: "new_context_not_emitted/tab", Run: newContextNotEmitted(bidi.CreateTypeTab)},
		{Name: "new_context_not_emitted/window", Run: newContextNotEmitted(bidi.CreateTypeWindow)},
		{Name: "document_write/default", Run: documentWrite("")},
		{Name: "document_write/sandbox", Run: documentWrite("sandbox_1")},
		{Name: "early_same_document_navigation", Run: earlySameDocumentNavigation},
		{Name: "page_with_base_tag", Run: pageWithBaseTag},
		{Name: "subscribe_to_one_context", Run: subscribeToOneContext},
		{Name: "navigate_twice", Run: navigateTwice},
		{Name: "reload", Run: reload},
	}
}

// requireTimeout fails unless err is the timeout of a bounded wait.
func requireTimeout(t harness.T, err error) {
	t.Helper()

	var terr *bidi.TimeoutError
	require.Truef(t, errors.As(err, &terr), "expected no %s event, got %v", event, err)
}

func unsubscribe(t harness.T, e *harness.Env) {
	tab := e.NewTab(bidi.CreateTypeTab)
	ctx := e.Ctx

	_, err := e.Session.Subscribe(ctx, []string{event})
	require.NoError(t, err)
	require.NoError(t, e.Session.Unsubscribe(ctx, []string{event}))

	events := e.Collect(event)
	e.Navigate(tab, e.Inline("<div>foo</div>"), bidi.ReadinessStateComplete)

	requireTimeout(t, events.Wait(ctx, 1, e.NoEventTimeout()))
}

func subscribe(t harness.T, e *harness.Env) {
	tab := e.NewTab(bidi.CreateTypeTab)
	e.Subscribe([]string{event})

	onEntry := e.WaitForEvent(event)
	url := e.Inline("<div>foo</div>")
	e.Navigate(tab, url, bidi.ReadinessStateNone)
	info, err := onEntry.Get(e.EventTimeout())
	require.NoError(t, err)

	harness.AssertNavigationInfo(t, *info, harness.Expect(tab, url))
}

func timestamp(t harness.T, e *harness.Env) {
	tab := e.NewTab(bidi.CreateTypeTab)
	e.Subscribe([]string{event})

	start := e.CurrentTime(tab)

	onEntry := e.WaitForEvent(event)
	url := e.Inline("<div>foo</div>")
	res := e.Navigate(tab, url, bidi.ReadinessStateNone)
	info, err := onEntry.Get(e.EventTimeout())
	require.NoError(t, err)

	end := e.CurrentTime(tab)

	harness.AssertNavigationInfo(t, *info, harness.Expected{
		Context:    null.StringFrom(tab),
		Navigation: harness.ExpectNavigation(res.Navigation),
		Timestamp:  &harness.IntInterval{Start: start, End: end},
	})
}

func iframe(t harness.T, e *harness.Env) {
	tab := e.NewTab(bidi.CreateTypeTab)
	events := e.Collect(event)
	e.Subscribe([]string{event})

	page, framed := e.TestPage(), e.TestPageSameOriginFrame()
	res := e.Navigate(tab, framed, bidi.ReadinessStateNone)

	require.NoError(t, events.Wait(e.Ctx, 2, e.EventTimeout()))

	tree, err := e.Session.BrowsingContext.GetTree(e.Ctx, tab, -1)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	root := tree[0]
	require.Len(t, root.Children, 1)
	child := root.Children[0]

	all := events.All()
	require.Len(t, all, 2)

	// The frame finishes loading first.
	harness.AssertNavigationInfo(t, all[0], harness.Expect(child.Context, page))
	want := harness.Expect(root.Context, framed)
	want.Navigation = harness.ExpectNavigation(res.Navigation)
	harness.AssertNavigationInfo(t, all[1], want)

	assert.True(t, all[0].Navigation.Valid, "frame navigation id is null")
	assert.NotEqual(t, all[0].Navigation, all[1].Navigation)
}

func newContextNotEmitted(typ bidi.CreateType) func(harness.T, *harness.Env) {
	return func(t harness.T, e *harness.Env) {
		e.Subscribe([]string{event})
		events := e.Collect(event)

		e.NewTab(typ)

		requireTimeout(t, events.Wait(e.Ctx, 1, e.NoEventTimeout()))
	}
}

func documentWrite(sandbox string) func(harness.T, *harness.Env) {
	return func(t harness.T, e *harness.Env) {
		tab := e.NewTab(bidi.CreateTypeTab)
		e.Subscribe([]string{event})

		onEntry := e.WaitForEvent(event)
		e.Evaluate(`document.open(); document.write("<h1>Replaced</h1>"); document.close();`,
			bidi.ContextTarget{Context: tab, Sandbox: sandbox})

		info, err := onEntry.Get(e.EventTimeout())
		require.NoError(t, err)

		harness.AssertNavigationInfo(t, *info, harness.Expected{Context: null.StringFrom(tab)})
		assert.True(t, info.Navigation.Valid, "navigation id is null")
	}
}

func earlySameDocumentNavigation(t harness.T, e *harness.Env) {
	tab := e.NewTab(bidi.CreateTypeTab)
	e.Subscribe([]string{event})

	onEntry := e.WaitForEvent(event)
	url := e.Inline(`
        <script type="text/javascript">
            history.replaceState(null, 'initial', window.location.href);
        </script>
    `)
	res := e.Navigate(tab, url, bidi.ReadinessStateNone)
	info, err := onEntry.Get(e.EventTimeout())
	require.NoError(t, err)

	want := harness.Expect(tab, url)
	want.Navigation = harness.ExpectNavigation(res.Navigation)
	harness.AssertNavigationInfo(t, *info, want)
}

func pageWithBaseTag(t harness.T, e *harness.Env) {
	tab := e.NewTab(bidi.CreateTypeTab)
	e.Subscribe([]string{event})

	onEntry := e.WaitForEvent(event)
	url := e.Inline(`<base href="/relative-path">`)
	res := e.Navigate(tab, url, bidi.ReadinessStateNone)
	info, err := onEntry.Get(e.EventTimeout())
	require.NoError(t, err)

	want := harness.Expect(tab, url)
	want.Navigation = harness.ExpectNavigation(res.Navigation)
	harness.AssertNavigationInfo(t, *info, want)
}

func subscribeToOneContext(t harness.T, e *harness.Env) {
	watched := e.NewTab(bidi.CreateTypeTab)
	other := e.NewTab(bidi.CreateTypeTab)
	e.Subscribe([]string{event}, watched)
	events := e.Collect(event)

	e.Navigate(other, e.Inline("<div>other</div>"), bidi.ReadinessStateComplete)
	requireTimeout(t, events.Wait(e.Ctx, 1, e.NoEventTimeout()))

	url := e.Inline("<div>watched</div>")
	res := e.Navigate(watched, url, bidi.ReadinessStateComplete)
	require.NoError(t, events.Wait(e.Ctx, 1, e.EventTimeout()))

	all := events.All()
	require.Len(t, all, 1)
	want := harness.Expect(watched, url)
	want.Navigation = harness.ExpectNavigation(res.Navigation)
	harness.AssertNavigationInfo(t, all[0], want)
}

func navigateTwice(t harness.T, e *harness.Env) {
	tab := e.NewTab(bidi.CreateTypeTab)
	e.Subscribe([]string{event})
	events := e.Collect(event)

	first, second := e.Inline("<div>first</div>"), e.Inline("<div>second</div>")
	res1 := e.Navigate(tab, first, bidi.ReadinessStateComplete)
	res2 := e.Navigate(tab, second, bidi.ReadinessStateComplete)
	require.NoError(t, events.Wait(e.Ctx, 2, e.EventTimeout()))

	all := events.All()
	require.Len(t, all, 2)
	want := harness.Expect(tab, first)
	want.Navigation = harness.ExpectNavigation(res1.Navigation)
	harness.AssertNavigationInfo(t, all[0], want)
	want = harness.Expect(tab, second)
	want.Navigation = harness.ExpectNavigation(res2.Navigation)
	harness.AssertNavigationInfo(t, all[1], want)
	assert.NotEqual(t, all[0].Navigation, all[1].Navigation)
}

func reload(t harness.T, e *harness.Env) {
	tab := e.NewTab(bidi.CreateTypeTab)
	url := e.Inline("<div>foo</div>")
	e.Navigate(tab, url, bidi.ReadinessStateComplete)

	e.Subscribe([]string{event})
	onEntry := e.WaitForEvent(event)
	res, err := e.Session.BrowsingContext.Reload(e.Ctx, tab, bidi.ReadinessStateNone)
	require.NoError(t, err)
	info, err := onEntry.Get(e.EventTimeout())
	require.NoError(t, err)

	want := harness.Expect(tab, url)
	want.Navigation = harness.ExpectNavigation(res.Navigation)
	harness.AssertNavigationInfo(t, *info, want)
}
