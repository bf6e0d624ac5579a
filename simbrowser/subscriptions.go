package simbrowser

import (
	"github.com/google/uuid"

	"github.com/liuxd6825/bidiload/bidi"
)

const moduleBrowsingContext = "browsingContext"

var browsingContextEvents = []string{
	bidi.EventBrowsingContextContextCreated,
	bidi.EventBrowsingContextContextDestroyed,
	bidi.EventBrowsingContextDOMContentLoaded,
	bidi.EventBrowsingContextLoad,
	bidi.EventBrowsingContextNavigationStarted,
}

// subscription is one (event, top-level context) pair of a subscribe call.
// An empty context makes the entry global.
type subscription struct {
	id      string
	event   string
	context string
}

func knownEvent(name string) bool {
	if name == moduleBrowsingContext {
		return true
	}
	for _, ev := range browsingContextEvents {
		if ev == name {
			return true
		}
	}
	return false
}

// expandEvents replaces module names by the events of the module.
func expandEvents(events []string) []string {
	var out []string
	for _, ev := range events {
		if ev == moduleBrowsingContext {
			out = append(out, browsingContextEvents...)
			continue
		}
		out = append(out, ev)
	}
	return out
}

// addSubscription records a subscribe call and returns its id. When scoped
// is false the subscription is global and tops is ignored.
func (s *session) addSubscription(events, tops []string, scoped bool) string {
	id := uuid.NewString()
	if !scoped {
		tops = []string{""}
	}
	for _, ev := range expandEvents(events) {
		for _, top := range tops {
			s.subs = append(s.subs, &subscription{id: id, event: ev, context: top})
		}
	}
	return id
}

func (s *session) removeSubscriptions(ids []string) *protocolError {
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		found := false
		for _, sub := range s.subs {
			if sub.id == id {
				found = true
				break
			}
		}
		if !found {
			return newError(bidi.ErrorCodeInvalidArgument, "no subscription with id %q", id)
		}
		remove[id] = true
	}
	s.filterSubscriptions(func(sub *subscription) bool { return remove[sub.id] })
	return nil
}

// removeEvents unsubscribes the given events, globally when tops is empty.
// Every pair must have a matching entry or nothing is removed.
func (s *session) removeEvents(events, tops []string) *protocolError {
	if len(tops) == 0 {
		tops = []string{""}
	}
	type pair struct{ event, context string }
	remove := make(map[pair]bool)
	for _, ev := range expandEvents(events) {
		for _, top := range tops {
			p := pair{ev, top}
			found := false
			for _, sub := range s.subs {
				if sub.event == ev && sub.context == top {
					found = true
					break
				}
			}
			if !found {
				where := "globally"
				if top != "" {
					where = "for context " + top
				}
				return newError(bidi.ErrorCodeInvalidArgument, "not subscribed to %s %s", ev, where)
			}
			remove[p] = true
		}
	}
	s.filterSubscriptions(func(sub *subscription) bool {
		return remove[pair{sub.event, sub.context}]
	})
	return nil
}

func (s *session) filterSubscriptions(drop func(*subscription) bool) {
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if !drop(sub) {
			kept = append(kept, sub)
		}
	}
	s.subs = kept
}

func (s *session) isSubscribed(event string, bc *browsingContext) bool {
	top := ""
	if bc != nil {
		top = bc.top().id
	}
	for _, sub := range s.subs {
		if sub.event != event {
			continue
		}
		if sub.context == "" || sub.context == top {
			return true
		}
	}
	return false
}
