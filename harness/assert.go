package harness

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/assert"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/bidiload/bidi"
)

// IntInterval is the closed integer interval [Start, End].
type IntInterval struct {
	Start int64
	End   int64
}

// Contains reports whether v lies in the interval, bounds included.
func (i IntInterval) Contains(v int64) bool {
	return i.Start <= v && v <= i.End
}

func (i IntInterval) String() string {
	return fmt.Sprintf("[%d, %d]", i.Start, i.End)
}

// Expected lists the navigation info fields to check. Fields left at their
// zero value are not checked.
type Expected struct {
	Context null.String
	URL     null.String
	// Navigation is compared including its validity, so a null navigation
	// id can be expected with &null.String{}.
	Navigation *null.String
	Timestamp  *IntInterval
}

// ExpectNavigation is a convenience for Expected.Navigation.
func ExpectNavigation(id null.String) *null.String {
	return &id
}

// AssertNavigationInfo checks info against want and reports every mismatch.
func AssertNavigationInfo(t T, info bidi.NavigationInfo, want Expected) bool {
	t.Helper()

	ok := true
	if want.Context.Valid {
		ok = assert.Equal(t, want.Context.String, info.Context, "context") && ok
	}
	if want.URL.Valid {
		ok = assert.Equal(t, want.URL.String, info.URL, "url") && ok
	}
	if want.Navigation != nil {
		ok = assert.Equal(t, *want.Navigation, info.Navigation, "navigation") && ok
	}
	if want.Timestamp != nil {
		ok = assert.Truef(t, want.Timestamp.Contains(info.Timestamp),
			"timestamp %d not in %s", info.Timestamp, want.Timestamp) && ok
	}
	return ok
}

// CurrentTime samples the browser clock, in milliseconds since the epoch,
// by evaluating Date.now() in the given browsing context.
func CurrentTime(ctx context.Context, s *bidi.Session, contextID string) (int64, error) {
	v, err := s.Script.Evaluate(ctx, "Date.now()", bidi.ContextTarget{Context: contextID}, false)
	if err != nil {
		return 0, fmt.Errorf("reading browser time: %w", err)
	}
	return v.Int64()
}
