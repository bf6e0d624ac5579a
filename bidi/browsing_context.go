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
	"context"
)

// BrowsingContext implements the browsingContext module commands.
type BrowsingContext struct {
	exec Executor
}

// CreateOptions are the optional browsingContext.create parameters.
type CreateOptions struct {
	ReferenceContext string
	Background       bool
}

// Create opens a new top-level browsing context and returns its id.
func (b *BrowsingContext) Create(ctx context.Context, typ CreateType, opts *CreateOptions) (string, error) {
	params := createParams{Type: typ}
	if opts != nil {
		params.ReferenceContext = opts.ReferenceContext
		params.Background = opts.Background
	}
	var res CreateResult
	if err := b.exec.Execute(ctx, CommandBrowsingContextCreate, &params, &res); err != nil {
		return "", err
	}
	return res.Context, nil
}

// Navigate loads url in the context. An empty wait leaves the choice to the
// remote end, which replies as soon as the navigation started.
func (b *BrowsingContext) Navigate(ctx context.Context, contextID, url string, wait ReadinessState) (*NavigateResult, error) {
	var res NavigateResult
	params := navigateParams{Context: contextID, URL: url, Wait: wait}
	if err := b.exec.Execute(ctx, CommandBrowsingContextNavigate, &params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Reload reloads the context's current document.
func (b *BrowsingContext) Reload(ctx context.Context, contextID string, wait ReadinessState) (*NavigateResult, error) {
	var res NavigateResult
	params := reloadParams{Context: contextID, Wait: wait}
	if err := b.exec.Execute(ctx, CommandBrowsingContextReload, &params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetTree returns the context tree, starting at root when it isn't empty.
// A negative maxDepth means unlimited.
func (b *BrowsingContext) GetTree(ctx context.Context, root string, maxDepth int64) ([]BrowsingContextInfo, error) {
	params := getTreeParams{Root: root}
	if maxDepth >= 0 {
		params.MaxDepth = &maxDepth
	}
	var res GetTreeResult
	if err := b.exec.Execute(ctx, CommandBrowsingContextGetTree, &params, &res); err != nil {
		return nil, err
	}
	return res.Contexts, nil
}

// Close closes a top-level browsing context.
func (b *BrowsingContext) Close(ctx context.Context, contextID string) error {
	return b.exec.Execute(ctx, CommandBrowsingContextClose, &closeParams{Context: contextID}, nil)
}
