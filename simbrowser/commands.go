package simbrowser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/mailru/easyjson"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/bidiload/bidi"
)

// Version is reported as the simulated browser version.
var Version = "0.1.0"

type protocolError struct {
	code    string
	message string
}

func newError(code, format string, args ...interface{}) *protocolError {
	return &protocolError{code: code, message: fmt.Sprintf(format, args...)}
}

func (e *protocolError) Error() string {
	return e.code + ": " + e.message
}

func marshalRaw(v interface{}) (easyjson.RawMessage, error) {
	if v == nil {
		return easyjson.RawMessage("{}"), nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return easyjson.RawMessage(buf), nil
}

type commandHandler func(s *session, id int64, params gjson.Result)

var commands = map[string]commandHandler{
	bidi.CommandSessionStatus:           (*session).status,
	bidi.CommandSessionNew:              (*session).newSession,
	bidi.CommandSessionEnd:              (*session).end,
	bidi.CommandSessionSubscribe:        (*session).subscribe,
	bidi.CommandSessionUnsubscribe:      (*session).unsubscribe,
	bidi.CommandBrowsingContextCreate:   (*session).create,
	bidi.CommandBrowsingContextClose:    (*session).closeContext,
	bidi.CommandBrowsingContextGetTree:  (*session).getTree,
	bidi.CommandBrowsingContextNavigate: (*session).navigate,
	bidi.CommandBrowsingContextReload:   (*session).reload,
	bidi.CommandScriptEvaluate:          (*session).evaluate,
}

func (s *session) dispatch(msg *bidi.Message) {
	if msg.ID == 0 || msg.Method == "" {
		s.reply(msg.ID, nil, newError(bidi.ErrorCodeInvalidArgument, "command needs an id and a method"))
		return
	}
	handler, ok := commands[msg.Method]
	if !ok {
		s.reply(msg.ID, nil, newError(bidi.ErrorCodeUnknownCommand, "%s", msg.Method))
		return
	}
	params := gjson.ParseBytes(msg.Params)
	if len(msg.Params) == 0 {
		params = gjson.Parse("{}")
	}
	if !params.IsObject() {
		s.reply(msg.ID, nil, newError(bidi.ErrorCodeInvalidArgument, "params must be an object"))
		return
	}
	handler(s, msg.ID, params)
}

func (s *session) status(id int64, _ gjson.Result) {
	s.reply(id, bidi.StatusResult{Ready: false, Message: "already connected"}, nil)
}

func (s *session) newSession(id int64, _ gjson.Result) {
	s.reply(id, bidi.NewResult{
		SessionID: uuid.NewString(),
		Capabilities: map[string]interface{}{
			"browserName":         BrowserName,
			"browserVersion":      Version,
			"acceptInsecureCerts": false,
			"setWindowRect":       false,
		},
	}, nil)
}

func (s *session) end(id int64, _ gjson.Result) {
	s.reply(id, nil, nil)
}

func (s *session) subscribe(id int64, params gjson.Result) {
	events, perr := stringList(params, "events")
	if perr != nil {
		s.reply(id, nil, perr)
		return
	}
	if len(events) == 0 {
		s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "events must not be empty"))
		return
	}
	for _, ev := range events {
		if !knownEvent(ev) {
			s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "unknown event %q", ev))
			return
		}
	}
	contexts, perr := stringList(params, "contexts")
	if perr != nil {
		s.reply(id, nil, perr)
		return
	}
	if params.Get("contexts").Exists() && len(contexts) == 0 {
		s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "contexts must not be empty"))
		return
	}
	tops := make([]string, 0, len(contexts))
	for _, c := range contexts {
		bc, ok := s.contexts[c]
		if !ok {
			s.reply(id, nil, newError(bidi.ErrorCodeNoSuchFrame, "context %q not found", c))
			return
		}
		tops = append(tops, bc.top().id)
	}

	subID := s.addSubscription(events, tops, params.Get("contexts").Exists())
	s.reply(id, bidi.SubscribeResult{Subscription: subID}, nil)
}

func (s *session) unsubscribe(id int64, params gjson.Result) {
	if ids := params.Get("subscriptions"); ids.Exists() {
		list, perr := stringList(params, "subscriptions")
		if perr != nil {
			s.reply(id, nil, perr)
			return
		}
		if err := s.removeSubscriptions(list); err != nil {
			s.reply(id, nil, err)
			return
		}
		s.reply(id, nil, nil)
		return
	}

	events, perr := stringList(params, "events")
	if perr != nil {
		s.reply(id, nil, perr)
		return
	}
	if len(events) == 0 {
		s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "events must not be empty"))
		return
	}
	contexts, perr := stringList(params, "contexts")
	if perr != nil {
		s.reply(id, nil, perr)
		return
	}
	tops := make([]string, 0, len(contexts))
	for _, c := range contexts {
		bc, ok := s.contexts[c]
		if !ok {
			s.reply(id, nil, newError(bidi.ErrorCodeNoSuchFrame, "context %q not found", c))
			return
		}
		tops = append(tops, bc.top().id)
	}
	if err := s.removeEvents(events, tops); err != nil {
		s.reply(id, nil, err)
		return
	}
	s.reply(id, nil, nil)
}

func (s *session) create(id int64, params gjson.Result) {
	typ := bidi.CreateType(params.Get("type").String())
	if typ != bidi.CreateTypeTab && typ != bidi.CreateTypeWindow {
		s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "type must be %q or %q", bidi.CreateTypeTab, bidi.CreateTypeWindow))
		return
	}
	if ref := params.Get("referenceContext"); ref.Exists() {
		bc, ok := s.contexts[ref.String()]
		if !ok {
			s.reply(id, nil, newError(bidi.ErrorCodeNoSuchFrame, "context %q not found", ref.String()))
			return
		}
		if bc.parent != nil {
			s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "reference context %q is not top-level", bc.id))
			return
		}
	}

	bc := s.newTopLevel()
	s.emit(bidi.EventBrowsingContextContextCreated, bc, bc.info(0))
	s.reply(id, bidi.CreateResult{Context: bc.id}, nil)
}

func (s *session) closeContext(id int64, params gjson.Result) {
	bc, perr := s.lookup(params, "context")
	if perr != nil {
		s.reply(id, nil, perr)
		return
	}
	if bc.parent != nil {
		s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "context %q is not top-level", bc.id))
		return
	}
	info := bc.info(-1)
	s.destroy(bc)
	s.emit(bidi.EventBrowsingContextContextDestroyed, bc, info)
	s.reply(id, nil, nil)
}

func (s *session) getTree(id int64, params gjson.Result) {
	depth := int64(-1)
	if md := params.Get("maxDepth"); md.Exists() {
		if md.Type != gjson.Number || md.Int() < 0 || float64(md.Int()) != md.Float() {
			s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "maxDepth must be a non-negative integer"))
			return
		}
		depth = md.Int()
	}

	roots := s.tops
	if params.Get("root").Exists() {
		bc, perr := s.lookup(params, "root")
		if perr != nil {
			s.reply(id, nil, perr)
			return
		}
		roots = []*browsingContext{bc}
	}

	result := bidi.GetTreeResult{Contexts: make([]bidi.BrowsingContextInfo, 0, len(roots))}
	for _, bc := range roots {
		result.Contexts = append(result.Contexts, bc.info(depth))
	}
	s.reply(id, result, nil)
}

func (s *session) navigate(id int64, params gjson.Result) {
	bc, perr := s.lookup(params, "context")
	if perr != nil {
		s.reply(id, nil, perr)
		return
	}
	wait, perr := readiness(params)
	if perr != nil {
		s.reply(id, nil, perr)
		return
	}
	raw := params.Get("url").String()
	target, err := bc.resolve(raw)
	if err != nil || !target.IsAbs() {
		s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "invalid url %q", raw))
		return
	}
	dest := target.String()
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		dest = raw
	}
	s.startNavigation(id, bc, dest, wait)
}

func (s *session) reload(id int64, params gjson.Result) {
	bc, perr := s.lookup(params, "context")
	if perr != nil {
		s.reply(id, nil, perr)
		return
	}
	wait, perr := readiness(params)
	if perr != nil {
		s.reply(id, nil, perr)
		return
	}
	s.startNavigation(id, bc, bc.url, wait)
}

func (s *session) evaluate(id int64, params gjson.Result) {
	target := params.Get("target")
	if !target.IsObject() {
		s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "target must be an object"))
		return
	}
	bc, perr := s.lookup(target, "context")
	if perr != nil {
		s.reply(id, nil, perr)
		return
	}
	expr := params.Get("expression")
	if expr.Type != gjson.String {
		s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "expression must be a string"))
		return
	}
	if ap := params.Get("awaitPromise"); !ap.IsBool() {
		s.reply(id, nil, newError(bidi.ErrorCodeInvalidArgument, "awaitPromise must be a boolean"))
		return
	}

	r := bc.realm(s, target.Get("sandbox").String())
	result := r.evaluate(expr.String(), params.Get("awaitPromise").Bool())
	s.reply(id, result, nil)

	// A document.open() from the script replaces the document once the
	// script has returned.
	if bc.doc.replaced {
		s.finishDocumentWrite(bc)
	}
}

func (s *session) lookup(params gjson.Result, key string) (*browsingContext, *protocolError) {
	v := params.Get(key)
	if v.Type != gjson.String {
		return nil, newError(bidi.ErrorCodeInvalidArgument, "%s must be a string", key)
	}
	bc, ok := s.contexts[v.String()]
	if !ok {
		return nil, newError(bidi.ErrorCodeNoSuchFrame, "context %q not found", v.String())
	}
	return bc, nil
}

func readiness(params gjson.Result) (bidi.ReadinessState, *protocolError) {
	w := params.Get("wait")
	if !w.Exists() {
		return bidi.ReadinessStateNone, nil
	}
	switch state := bidi.ReadinessState(w.String()); state {
	case bidi.ReadinessStateNone, bidi.ReadinessStateInteractive, bidi.ReadinessStateComplete:
		return state, nil
	default:
		return "", newError(bidi.ErrorCodeInvalidArgument, "unknown readiness state %q", w.String())
	}
}

func stringList(params gjson.Result, key string) ([]string, *protocolError) {
	v := params.Get(key)
	if !v.Exists() {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, newError(bidi.ErrorCodeInvalidArgument, "%s must be an array", key)
	}
	var (
		list []string
		perr *protocolError
	)
	v.ForEach(func(_, item gjson.Result) bool {
		if item.Type != gjson.String || strings.TrimSpace(item.String()) == "" {
			perr = newError(bidi.ErrorCodeInvalidArgument, "%s must contain non-empty strings", key)
			return false
		}
		list = append(list, item.String())
		return true
	})
	return list, perr
}
