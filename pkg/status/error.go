// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authblock.
//
// go-authblock is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package status

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error is one link of a status chain.
type Error struct {
	loc     Location
	actions ActionSet
	kind    Kind
	code    Code
	// retryAfter is set when the failure clears after a known wait.
	retryAfter time.Duration
	cause      error
}

// New creates a link at loc with no actions, kind or code.
func New(loc Location) *Error {
	return &Error{loc: loc}
}

// Wrap prepends loc to err. It returns nil when err is nil.
func Wrap(loc Location, err error) error {
	if err == nil {
		return nil
	}
	return &Error{loc: loc, cause: err}
}

// WithActions adds actions to the link.
func (e *Error) WithActions(actions ...Action) *Error {
	e.actions = e.actions.Union(NewActionSet(actions...))
	return e
}

// WithKind sets the kind of the link.
func (e *Error) WithKind(k Kind) *Error {
	e.kind = k
	return e
}

// WithCode sets the family code of the link.
func (e *Error) WithCode(c Code) *Error {
	e.code = c
	return e
}

// WithRetryAfter records that the request may succeed after d.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.retryAfter = d
	return e
}

// Wrap sets the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.cause = err
	return e
}

// Location returns the location of this link.
func (e *Error) Location() Location { return e.loc }

// OwnActions returns the actions attached to this link only.
func (e *Error) OwnActions() ActionSet { return e.actions }

// Kind returns the kind attached to this link.
func (e *Error) Kind() Kind { return e.kind }

// Code returns the code attached to this link, or nil.
func (e *Error) Code() Code { return e.code }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Error renders the link followed by the rest of the chain.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.loc.String())
	var attrs []string
	if e.kind != KindUnspecified {
		attrs = append(attrs, e.kind.String())
	}
	if e.code != nil {
		attrs = append(attrs, e.code.String())
	}
	if !e.actions.Empty() {
		attrs = append(attrs, e.actions.String())
	}
	if e.retryAfter > 0 {
		attrs = append(attrs, "retry-after="+e.retryAfter.String())
	}
	if len(attrs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(attrs, " "))
		b.WriteString("]")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// links walks err and calls fn for every *Error in the chain until fn
// returns false.
func links(err error, fn func(*Error) bool) {
	for err != nil {
		var se *Error
		if errors.As(err, &se) {
			if !fn(se) {
				return
			}
			err = se.cause
			continue
		}
		return
	}
}

// Actions returns the union of actions across the chain.
func Actions(err error) ActionSet {
	var s ActionSet
	links(err, func(e *Error) bool {
		s = s.Union(e.actions)
		return true
	})
	return s
}

// ContainsAction reports whether any link of the chain recommends a.
func ContainsAction(err error, a Action) bool {
	return Actions(err).Has(a)
}

// CodeOf returns the first code of type T found in the chain.
func CodeOf[T Code](err error) (T, bool) {
	var (
		out   T
		found bool
	)
	links(err, func(e *Error) bool {
		if c, ok := e.code.(T); ok {
			out, found = c, true
			return false
		}
		return true
	})
	return out, found
}

// RetryAfter returns the first wait recorded in the chain.
func RetryAfter(err error) (time.Duration, bool) {
	var (
		d     time.Duration
		found bool
	)
	links(err, func(e *Error) bool {
		if e.retryAfter > 0 {
			d, found = e.retryAfter, true
			return false
		}
		return true
	})
	return d, found
}

// KindOf returns the first kind set in the chain.
func KindOf(err error) Kind {
	kind := KindUnspecified
	links(err, func(e *Error) bool {
		if e.kind != KindUnspecified {
			kind = e.kind
			return false
		}
		return true
	})
	return kind
}

// Locations lists the location of every link, outermost first.
func Locations(err error) []Location {
	var locs []Location
	links(err, func(e *Error) bool {
		locs = append(locs, e.loc)
		return true
	})
	return locs
}

// IsCallerError reports whether err is the result of a malformed request.
func IsCallerError(err error) bool {
	return KindOf(err) == KindCaller || ContainsAction(err, ActionDevCheckUnexpectedState)
}

// HardwareMayBeOrphaned reports whether err left a hardware resource that
// nothing references.
func HardwareMayBeOrphaned(err error) bool {
	return ContainsAction(err, ActionCleanupOrphanedHardware) || KindOf(err) == KindBackingStore
}

// UserMessage returns the text that may be shown to an end user. Internal
// details stay in the chain.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case ContainsAction(err, ActionLeLockedOut):
		return "Too many attempts. Use a different method to sign in."
	}
	if d, ok := RetryAfter(err); ok {
		secs := int64((d + time.Second - 1) / time.Second)
		return fmt.Sprintf("Too many attempts. Try again in %d seconds.", secs)
	}
	switch {
	case ContainsAction(err, ActionAuth):
		return "Incorrect credential. Try again."
	default:
		return "Couldn't verify credential."
	}
}
