package simbrowser

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/liuxd6825/bidiload/bidi"
)

// realm is a JavaScript global of a browsing context. The page runs in the
// realm with an empty sandbox name; script.evaluate may ask for others.
type realm struct {
	id      string
	sandbox string
	vm      *goja.Runtime
}

func (bc *browsingContext) realm(s *session, sandbox string) *realm {
	if r, ok := bc.realms[sandbox]; ok {
		return r
	}
	r := newRealm(s, bc, sandbox)
	bc.realms[sandbox] = r
	return r
}

func newRealm(s *session, bc *browsingContext, sandbox string) *realm {
	vm := goja.New()
	vm.SetTimeSource(s.b.clock)

	location := newLocation(vm, bc)
	global := vm.GlobalObject()
	globals := map[string]interface{}{
		"window":   global,
		"self":     global,
		"location": location,
		"document": newDocumentObject(vm, bc, location),
		"history":  newHistory(vm, bc),
		"console":  newConsole(vm, s, bc),
	}
	for name, v := range globals {
		if err := global.Set(name, v); err != nil {
			s.b.logger.Errorf("sim", "defining %s: %v", name, err)
		}
	}

	return &realm{id: uuid.NewString(), sandbox: sandbox, vm: vm}
}

// run executes a classic script.
func (r *realm) run(name, code string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("script panic in %s: %v", name, p)
		}
	}()
	_, err = r.vm.RunScript(name, code)
	return err
}

func (r *realm) evaluate(expression string, awaitPromise bool) (result bidi.EvaluateResult) {
	defer func() {
		if p := recover(); p != nil {
			result = r.exception(fmt.Errorf("script panic: %v", p))
		}
	}()

	v, err := r.vm.RunString(expression)
	if err != nil {
		return r.exception(err)
	}
	if p, ok := exportPromise(v); ok && awaitPromise {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			v = p.Result()
		case goja.PromiseStateRejected:
			return r.thrown(p.Result())
		default:
			return r.exception(errors.New("promise did not settle"))
		}
	}
	return bidi.EvaluateResult{
		Type:   "success",
		Result: serialize(v),
		Realm:  r.id,
	}
}

func (r *realm) exception(err error) bidi.EvaluateResult {
	var exc *goja.Exception
	if errors.As(err, &exc) && exc.Value() != nil {
		return r.thrown(exc.Value())
	}
	return bidi.EvaluateResult{
		Type: "exception",
		ExceptionDetails: &bidi.ExceptionDetails{
			Text:      err.Error(),
			Exception: bidi.RemoteValue{Type: "error"},
		},
		Realm: r.id,
	}
}

func (r *realm) thrown(v goja.Value) bidi.EvaluateResult {
	return bidi.EvaluateResult{
		Type: "exception",
		ExceptionDetails: &bidi.ExceptionDetails{
			Text:      v.String(),
			Exception: *serialize(v),
		},
		Realm: r.id,
	}
}

func exportPromise(v goja.Value) (*goja.Promise, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	p, ok := v.Export().(*goja.Promise)
	return p, ok
}

// serialize converts a script value into its remote value form. Only
// primitives carry a value.
func serialize(v goja.Value) *bidi.RemoteValue {
	switch {
	case v == nil || goja.IsUndefined(v):
		return &bidi.RemoteValue{Type: "undefined"}
	case goja.IsNull(v):
		return &bidi.RemoteValue{Type: "null"}
	}

	if obj, ok := v.(*goja.Object); ok {
		return &bidi.RemoteValue{Type: objectType(obj)}
	}

	switch e := v.Export().(type) {
	case bool:
		return primitive("boolean", e)
	case string:
		return primitive("string", e)
	case int64:
		return primitive("number", e)
	case float64:
		switch {
		case math.IsNaN(e):
			return primitive("number", "NaN")
		case math.IsInf(e, 1):
			return primitive("number", "Infinity")
		case math.IsInf(e, -1):
			return primitive("number", "-Infinity")
		case e == 0 && math.Signbit(e):
			return primitive("number", "-0")
		}
		return primitive("number", e)
	default:
		return &bidi.RemoteValue{Type: "symbol"}
	}
}

func objectType(obj *goja.Object) string {
	if _, ok := goja.AssertFunction(obj); ok {
		return "function"
	}
	switch obj.ClassName() {
	case "Array":
		return "array"
	case "Error":
		return "error"
	case "Date":
		return "date"
	case "RegExp":
		return "regexp"
	case "Promise":
		return "promise"
	}
	return "object"
}

func primitive(typ string, v interface{}) *bidi.RemoteValue {
	raw, err := json.Marshal(v)
	if err != nil {
		return &bidi.RemoteValue{Type: typ}
	}
	return &bidi.RemoteValue{Type: typ, Value: raw}
}

func newDocumentObject(vm *goja.Runtime, bc *browsingContext, location *goja.Object) *goja.Object {
	doc := vm.NewObject()
	accessor(vm, doc, "readyState", func() interface{} { return bc.doc.readyState })
	accessor(vm, doc, "URL", func() interface{} { return bc.url })
	_ = doc.Set("location", location)
	_ = doc.Set("open", func(goja.FunctionCall) goja.Value {
		bc.doc.openStream()
		return doc
	})
	_ = doc.Set("write", func(call goja.FunctionCall) goja.Value {
		bc.doc.write(joinArgs(call.Arguments, ""))
		return goja.Undefined()
	})
	_ = doc.Set("writeln", func(call goja.FunctionCall) goja.Value {
		bc.doc.write(joinArgs(call.Arguments, "") + "\n")
		return goja.Undefined()
	})
	_ = doc.Set("close", func(goja.FunctionCall) goja.Value {
		bc.doc.closeStream()
		return goja.Undefined()
	})
	return doc
}

func newLocation(vm *goja.Runtime, bc *browsingContext) *goja.Object {
	loc := vm.NewObject()
	parsed := func() *url.URL {
		u, err := url.Parse(bc.url)
		if err != nil {
			return &url.URL{}
		}
		return u
	}
	accessor(vm, loc, "href", func() interface{} { return bc.url })
	accessor(vm, loc, "protocol", func() interface{} { return parsed().Scheme + ":" })
	accessor(vm, loc, "host", func() interface{} { return parsed().Host })
	accessor(vm, loc, "hostname", func() interface{} { return parsed().Hostname() })
	accessor(vm, loc, "pathname", func() interface{} { return parsed().EscapedPath() })
	accessor(vm, loc, "search", func() interface{} {
		if q := parsed().RawQuery; q != "" {
			return "?" + q
		}
		return ""
	})
	accessor(vm, loc, "hash", func() interface{} {
		if f := parsed().EscapedFragment(); f != "" {
			return "#" + f
		}
		return ""
	})
	_ = loc.Set("toString", func(goja.FunctionCall) goja.Value { return vm.ToValue(bc.url) })
	return loc
}

// newHistory installs the same-document half of the History API. Changing
// the URL this way never starts a navigation.
func newHistory(vm *goja.Runtime, bc *browsingContext) *goja.Object {
	history := vm.NewObject()
	state := goja.Null()
	length := 1

	update := func(call goja.FunctionCall, push bool) goja.Value {
		state = call.Argument(0)
		if target := call.Argument(2); !goja.IsUndefined(target) && !goja.IsNull(target) {
			u, err := bc.resolve(target.String())
			if err != nil {
				panic(vm.NewTypeError("invalid url %q", target.String()))
			}
			current, _ := url.Parse(bc.url)
			if current != nil && (current.Scheme != u.Scheme || current.Host != u.Host) {
				panic(vm.NewTypeError("cannot change origin from %s to %s", bc.url, u))
			}
			bc.url = u.String()
		}
		if push {
			length++
		}
		return goja.Undefined()
	}

	_ = history.Set("replaceState", func(call goja.FunctionCall) goja.Value { return update(call, false) })
	_ = history.Set("pushState", func(call goja.FunctionCall) goja.Value { return update(call, true) })
	accessor(vm, history, "state", func() interface{} { return state })
	accessor(vm, history, "length", func() interface{} { return length })
	return history
}

func newConsole(vm *goja.Runtime, s *session, bc *browsingContext) *goja.Object {
	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		_ = console.Set(level, func(call goja.FunctionCall) goja.Value {
			s.b.logger.Debugf("sim:console", "%s [%s] %s", bc.id, level, joinArgs(call.Arguments, " "))
			return goja.Undefined()
		})
	}
	return console
}

func accessor(vm *goja.Runtime, obj *goja.Object, name string, get func() interface{}) {
	getter := vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(get()) })
	_ = obj.DefineAccessorProperty(name, getter, nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func joinArgs(args []goja.Value, sep string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, sep)
}
