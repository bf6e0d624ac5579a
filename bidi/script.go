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
	"fmt"
)

// Script implements the script module commands.
type Script struct {
	exec Executor
}

// Evaluate runs expression in the target realm. A thrown exception is
// returned as *EvaluateException.
func (s *Script) Evaluate(ctx context.Context, expression string, target ContextTarget, awaitPromise bool) (*RemoteValue, error) {
	params := evaluateParams{
		Expression:   expression,
		Target:       target,
		AwaitPromise: awaitPromise,
	}
	var res EvaluateResult
	if err := s.exec.Execute(ctx, CommandScriptEvaluate, &params, &res); err != nil {
		return nil, err
	}

	switch res.Type {
	case "success":
		if res.Result == nil {
			return &RemoteValue{Type: "undefined"}, nil
		}
		return res.Result, nil
	case "exception":
		if res.ExceptionDetails == nil {
			return nil, &EvaluateException{}
		}
		return nil, &EvaluateException{Details: *res.ExceptionDetails}
	default:
		return nil, fmt.Errorf("%s: unexpected result type %q", CommandScriptEvaluate, res.Type)
	}
}
