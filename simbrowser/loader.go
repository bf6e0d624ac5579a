package simbrowser

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/bidiload/bidi"
)

const (
	readyStateLoading     = "loading"
	readyStateInteractive = "interactive"
	readyStateComplete    = "complete"
)

// maxFrameDepth is how deep frames nest. Deeper iframes get no browsing
// context.
const maxFrameDepth = 10

var errUnsupportedScheme = errors.New("unsupported url scheme")

// document is the state of the document loaded in a browsing context.
// Every realm of the context sees the same document.
type document struct {
	navigation string
	base       *url.URL
	readyState string

	parsing  bool
	open     bool
	replaced bool
	written  strings.Builder
}

func newDocument(navigation string, base *url.URL) *document {
	return &document{
		navigation: navigation,
		base:       base,
		readyState: readyStateComplete,
	}
}

// openStream implements document.open(). It is ignored while the parser
// runs scripts.
func (d *document) openStream() {
	if d.parsing {
		return
	}
	d.open = true
	d.written.Reset()
}

func (d *document) write(text string) {
	if !d.parsing && !d.open {
		d.openStream()
	}
	d.written.WriteString(text)
}

// closeStream implements document.close(). The written markup replaces the
// document once the running script returns.
func (d *document) closeStream() {
	if !d.open {
		return
	}
	d.open = false
	d.replaced = true
}

// startNavigation navigates bc and answers command cmdID once the document
// reaches the wait state.
func (s *session) startNavigation(cmdID int64, bc *browsingContext, target string, wait bidi.ReadinessState) {
	navigation := uuid.NewString()
	result := bidi.NavigateResult{Navigation: null.StringFrom(navigation), URL: target}

	replied := false
	respond := func(state bidi.ReadinessState) {
		if replied || state != wait {
			return
		}
		replied = true
		s.reply(cmdID, result, nil)
	}
	respond(bidi.ReadinessStateNone)

	if err := s.navigateTo(bc, target, navigation, respond); err != nil {
		s.b.logger.Warnf("sim", "navigating %s to %s: %v", bc.id, target, err)
		if !replied {
			s.reply(cmdID, nil, newError(bidi.ErrorCodeUnknownError, "navigation to %s failed: %v", target, err))
		}
	}
}

// navigateTo fetches target and loads it in bc with the given navigation id.
func (s *session) navigateTo(bc *browsingContext, target, navigation string, onState func(bidi.ReadinessState)) error {
	s.emit(bidi.EventBrowsingContextNavigationStarted, bc, bidi.NavigationInfo{
		Context:    bc.id,
		Navigation: null.StringFrom(navigation),
		Timestamp:  s.now(),
		URL:        target,
	})

	body, err := s.fetch(target)
	if err != nil {
		return err
	}

	s.destroyChildren(bc)
	bc.url = target
	bc.realms = make(map[string]*realm)
	bc.doc = newDocument(navigation, nil)

	return s.runDocument(bc, body, onState)
}

// runDocument parses body as the document of bc, runs its scripts, loads its
// frames and fires the lifecycle events. Frames finish loading before their
// parent.
func (s *session) runDocument(bc *browsingContext, body []byte, onState func(bidi.ReadinessState)) error {
	doc := bc.doc
	html, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parsing document: %w", err)
	}

	if href, ok := html.Find("base[href]").First().Attr("href"); ok {
		if base, err := bc.resolve(href); err == nil {
			doc.base = base
		}
	}

	doc.readyState = readyStateLoading
	doc.parsing = true
	html.Find("script").Each(func(_ int, sel *goquery.Selection) {
		s.runScript(bc, sel)
	})
	doc.parsing = false

	doc.readyState = readyStateInteractive
	s.emit(bidi.EventBrowsingContextDOMContentLoaded, bc, bc.navigationInfo(doc.navigation, s.now()))
	onState(bidi.ReadinessStateInteractive)

	var frames []string
	html.Find("iframe").Each(func(_ int, sel *goquery.Selection) {
		frames = append(frames, strings.TrimSpace(sel.AttrOr("src", "")))
	})
	for _, src := range frames {
		s.loadFrame(bc, src)
	}

	doc.readyState = readyStateComplete
	s.emit(bidi.EventBrowsingContextLoad, bc, bc.navigationInfo(doc.navigation, s.now()))
	onState(bidi.ReadinessStateComplete)
	return nil
}

func (s *session) loadFrame(parent *browsingContext, src string) {
	if parent.depth() >= maxFrameDepth {
		s.b.logger.Warnf("sim", "frame %q of %s not loaded: frames nest deeper than %d", src, parent.id, maxFrameDepth)
		return
	}
	child := s.newChild(parent)
	s.emit(bidi.EventBrowsingContextContextCreated, child, child.info(0))

	target := aboutBlank
	if src != "" {
		u, err := parent.resolve(src)
		if err != nil {
			s.b.logger.Warnf("sim", "frame of %s has invalid src %q: %v", parent.id, src, err)
			return
		}
		target = u.String()
	}
	if err := s.navigateTo(child, target, uuid.NewString(), func(bidi.ReadinessState) {}); err != nil {
		s.b.logger.Warnf("sim", "loading frame %s: %v", target, err)
	}
}

// finishDocumentWrite replaces the document of bc by the markup written
// between document.open() and document.close().
func (s *session) finishDocumentWrite(bc *browsingContext) {
	old := bc.doc
	old.replaced = false

	s.destroyChildren(bc)
	bc.doc = newDocument(uuid.NewString(), old.base)
	if err := s.runDocument(bc, []byte(old.written.String()), func(bidi.ReadinessState) {}); err != nil {
		s.b.logger.Warnf("sim", "loading written document in %s: %v", bc.id, err)
	}
}

func (s *session) runScript(bc *browsingContext, sel *goquery.Selection) {
	switch strings.ToLower(strings.TrimSpace(sel.AttrOr("type", ""))) {
	case "", "text/javascript", "application/javascript":
	default:
		return
	}

	name, code := bc.url, sel.Text()
	if src, ok := sel.Attr("src"); ok {
		u, err := bc.resolve(src)
		if err != nil {
			s.b.logger.Warnf("sim", "script in %s has invalid src %q: %v", bc.url, src, err)
			return
		}
		body, err := s.fetch(u.String())
		if err != nil {
			s.b.logger.Warnf("sim", "fetching script %s: %v", u, err)
			return
		}
		name, code = u.String(), string(body)
	}

	if err := bc.realm(s, "").run(name, code); err != nil {
		s.b.logger.Warnf("sim", "uncaught error in %s: %v", name, err)
	}
}

// fetch returns the body behind target.
func (s *session) fetch(target string) ([]byte, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "about":
		if u.Opaque != "blank" {
			return nil, fmt.Errorf("%w: %s", errUnsupportedScheme, target)
		}
		return nil, nil
	case "data":
		return decodeDataURL(target)
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedScheme, target)
	}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", target, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		s.b.logger.Debugf("sim", "GET %s: %s", target, resp.Status)
	}
	return body, nil
}

func decodeDataURL(raw string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data url %q", raw)
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data url %q: %w", raw, err)
	}
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(data)
	}
	return []byte(data), nil
}
