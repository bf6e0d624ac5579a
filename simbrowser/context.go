package simbrowser

import (
	"net/url"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/bidiload/bidi"
)

const aboutBlank = "about:blank"

const userContextDefault = "default"

// browsingContext is a tab, a window or a frame.
type browsingContext struct {
	id       string
	parent   *browsingContext
	children []*browsingContext
	url      string
	doc      *document
	realms   map[string]*realm
}

func newBrowsingContext(parent *browsingContext) *browsingContext {
	return &browsingContext{
		id:     uuid.NewString(),
		parent: parent,
		url:    aboutBlank,
		doc:    newDocument("", nil),
		realms: make(map[string]*realm),
	}
}

func (s *session) newTopLevel() *browsingContext {
	bc := newBrowsingContext(nil)
	s.contexts[bc.id] = bc
	s.tops = append(s.tops, bc)
	return bc
}

func (s *session) newChild(parent *browsingContext) *browsingContext {
	bc := newBrowsingContext(parent)
	s.contexts[bc.id] = bc
	parent.children = append(parent.children, bc)
	return bc
}

// destroy detaches bc and its descendants from the session.
func (s *session) destroy(bc *browsingContext) {
	s.destroyChildren(bc)
	delete(s.contexts, bc.id)

	siblings := &s.tops
	if bc.parent != nil {
		siblings = &bc.parent.children
	}
	for i, c := range *siblings {
		if c == bc {
			*siblings = append((*siblings)[:i], (*siblings)[i+1:]...)
			break
		}
	}
}

func (s *session) destroyChildren(bc *browsingContext) {
	for len(bc.children) > 0 {
		child := bc.children[0]
		info := child.info(-1)
		s.destroy(child)
		s.emit(bidi.EventBrowsingContextContextDestroyed, bc, info)
	}
}

// depth is 0 for a top-level context and grows by one per frame level.
func (bc *browsingContext) depth() int {
	n := 0
	for p := bc.parent; p != nil; p = p.parent {
		n++
	}
	return n
}

func (bc *browsingContext) top() *browsingContext {
	for bc.parent != nil {
		bc = bc.parent
	}
	return bc
}

// resolve parses ref relative to the document base URL.
func (bc *browsingContext) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() {
		return u, nil
	}
	base := bc.doc.base
	if base == nil {
		if base, err = url.Parse(bc.url); err != nil {
			return nil, err
		}
	}
	return base.ResolveReference(u), nil
}

// info describes bc and, up to depth levels deep, its children. A negative
// depth means the whole subtree.
func (bc *browsingContext) info(depth int64) bidi.BrowsingContextInfo {
	info := bidi.BrowsingContextInfo{
		Context:     bc.id,
		URL:         bc.url,
		UserContext: userContextDefault,
	}
	if bc.parent != nil {
		info.Parent = null.StringFrom(bc.parent.id)
	} else {
		info.ClientWindow = "window-" + bc.id
	}
	if depth == 0 {
		return info
	}
	info.Children = make([]bidi.BrowsingContextInfo, 0, len(bc.children))
	for _, child := range bc.children {
		info.Children = append(info.Children, child.info(depth-1))
	}
	return info
}

func (bc *browsingContext) navigationInfo(navigation string, timestamp int64) bidi.NavigationInfo {
	info := bidi.NavigationInfo{
		Context:   bc.id,
		Timestamp: timestamp,
		URL:       bc.url,
	}
	if navigation != "" {
		info.Navigation = null.StringFrom(navigation)
	}
	return info
}
