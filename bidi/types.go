/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package bidi

import (
	"encoding/json"
	"fmt"
	"math"

	"gopkg.in/guregu/null.v3"
)

// ReadinessState tells browsingContext.navigate and reload when to reply.
type ReadinessState string

const (
	ReadinessStateNone        ReadinessState = "none"
	ReadinessStateInteractive ReadinessState = "interactive"
	ReadinessStateComplete    ReadinessState = "complete"
)

// CreateType is the kind of top-level browsing context to create.
type CreateType string

const (
	CreateTypeTab    CreateType = "tab"
	CreateTypeWindow CreateType = "window"
)

// NavigationInfo is the payload of browsingContext.load and the other
// navigation lifecycle events.
type NavigationInfo struct {
	Context    string      `json:"context"`
	Navigation null.String `json:"navigation"`
	Timestamp  int64       `json:"timestamp"`
	URL        string      `json:"url"`
}

// DecodeNavigationInfo decodes raw event params.
func DecodeNavigationInfo(params []byte) (*NavigationInfo, error) {
	var info NavigationInfo
	if err := json.Unmarshal(params, &info); err != nil {
		return nil, fmt.Errorf("decoding navigation info: %w", err)
	}
	return &info, nil
}

// BrowsingContextInfo is a node of the browsing context tree.
// Children is nil when the node lies beyond the requested maxDepth.
type BrowsingContextInfo struct {
	Context        string                `json:"context"`
	URL            string                `json:"url"`
	Parent         null.String           `json:"parent"`
	UserContext    string                `json:"userContext,omitempty"`
	OriginalOpener null.String           `json:"originalOpener"`
	ClientWindow   string                `json:"clientWindow,omitempty"`
	Children       []BrowsingContextInfo `json:"children"`
}

// ContextTarget selects the realm a script runs in. An empty Sandbox means
// the page's own realm.
type ContextTarget struct {
	Context string `json:"context"`
	Sandbox string `json:"sandbox,omitempty"`
}

// RemoteValue is the serialized form of a script value.
type RemoteValue struct {
	Type   string          `json:"type"`
	Value  json.RawMessage `json:"value,omitempty"`
	Handle string          `json:"handle,omitempty"`
}

// Int64 returns a number value as an integer. Fractions are truncated.
func (v *RemoteValue) Int64() (int64, error) {
	if v.Type != "number" {
		return 0, fmt.Errorf("remote value of type %q is not a number", v.Type)
	}
	var f float64
	if err := json.Unmarshal(v.Value, &f); err != nil {
		return 0, fmt.Errorf("decoding number remote value: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("remote number %v is not finite", f)
	}
	return int64(f), nil
}

// String returns a string value.
func (v *RemoteValue) String() (string, error) {
	if v.Type != "string" {
		return "", fmt.Errorf("remote value of type %q is not a string", v.Type)
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return "", fmt.Errorf("decoding string remote value: %w", err)
	}
	return s, nil
}

// ExceptionDetails describes an exception thrown by an evaluated script.
type ExceptionDetails struct {
	ColumnNumber int64       `json:"columnNumber"`
	LineNumber   int64       `json:"lineNumber"`
	Text         string      `json:"text"`
	Exception    RemoteValue `json:"exception"`
}

type (
	newParams struct {
		Capabilities map[string]interface{} `json:"capabilities"`
	}

	// NewResult is the reply to session.new.
	NewResult struct {
		SessionID    string                 `json:"sessionId"`
		Capabilities map[string]interface{} `json:"capabilities"`
	}

	// StatusResult is the reply to session.status.
	StatusResult struct {
		Ready   bool   `json:"ready"`
		Message string `json:"message"`
	}

	subscribeParams struct {
		Events   []string `json:"events"`
		Contexts []string `json:"contexts,omitempty"`
	}

	// SubscribeResult is the reply to session.subscribe.
	SubscribeResult struct {
		Subscription string `json:"subscription"`
	}

	unsubscribeParams struct {
		Events        []string `json:"events,omitempty"`
		Contexts      []string `json:"contexts,omitempty"`
		Subscriptions []string `json:"subscriptions,omitempty"`
	}

	createParams struct {
		Type             CreateType `json:"type"`
		ReferenceContext string     `json:"referenceContext,omitempty"`
		Background       bool       `json:"background,omitempty"`
	}

	// CreateResult is the reply to browsingContext.create.
	CreateResult struct {
		Context string `json:"context"`
	}

	navigateParams struct {
		Context string         `json:"context"`
		URL     string         `json:"url"`
		Wait    ReadinessState `json:"wait,omitempty"`
	}

	reloadParams struct {
		Context     string         `json:"context"`
		IgnoreCache bool           `json:"ignoreCache,omitempty"`
		Wait        ReadinessState `json:"wait,omitempty"`
	}

	// NavigateResult is the reply to browsingContext.navigate and reload.
	NavigateResult struct {
		Navigation null.String `json:"navigation"`
		URL        string      `json:"url"`
	}

	getTreeParams struct {
		Root     string `json:"root,omitempty"`
		MaxDepth *int64 `json:"maxDepth,omitempty"`
	}

	// GetTreeResult is the reply to browsingContext.getTree.
	GetTreeResult struct {
		Contexts []BrowsingContextInfo `json:"contexts"`
	}

	closeParams struct {
		Context      string `json:"context"`
		PromptUnload bool   `json:"promptUnload,omitempty"`
	}

	evaluateParams struct {
		Expression   string        `json:"expression"`
		Target       ContextTarget `json:"target"`
		AwaitPromise bool          `json:"awaitPromise"`
	}

	// EvaluateResult is the reply to script.evaluate.
	EvaluateResult struct {
		Type             string            `json:"type"`
		Result           *RemoteValue      `json:"result,omitempty"`
		ExceptionDetails *ExceptionDetails `json:"exceptionDetails,omitempty"`
		Realm            string            `json:"realm"`
	}
)
