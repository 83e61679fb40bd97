package safebrowsing

import (
	"testing"
	"time"
)

func TestListBackoffWaitEndpoints(t *testing.T) {
	if got := listBackoffWait(1); got != 60*time.Second {
		t.Errorf("listBackoffWait(1) = %v, want 60s", got)
	}
	if got := listBackoffWait(0); got != 60*time.Second {
		t.Errorf("listBackoffWait(0) = %v, want 60s", got)
	}
	if got := listBackoffWait(6); got != 480*time.Minute {
		t.Errorf("listBackoffWait(6) = %v, want 480m", got)
	}
	if got := listBackoffWait(100); got != 480*time.Minute {
		t.Errorf("listBackoffWait(100) = %v, want 480m", got)
	}
}

func TestListBackoffWaitMiddleRangesAreBounded(t *testing.T) {
	bounds := map[int][2]time.Duration{
		2: {30 * time.Minute, 60 * time.Minute},
		3: {60 * time.Minute, 120 * time.Minute},
		4: {120 * time.Minute, 240 * time.Minute},
		5: {240 * time.Minute, 480 * time.Minute},
	}
	for errCount, bound := range bounds {
		for i := 0; i < 20; i++ {
			got := listBackoffWait(errCount)
			if got < bound[0] || got > bound[1] {
				t.Errorf("listBackoffWait(%d) = %v, want within [%v, %v]", errCount, got, bound[0], bound[1])
			}
		}
	}
}

func TestPrefixResolverAllowed(t *testing.T) {
	now := time.Now()
	if !prefixResolverAllowed(prefixState{Errors: 0}, now) {
		t.Error("no errors should always be allowed")
	}
	if prefixResolverAllowed(prefixState{Errors: 1, LastError: now}, now) {
		t.Error("1 error should suppress immediately after the last error")
	}
	if !prefixResolverAllowed(prefixState{Errors: 1, LastError: now.Add(-6 * time.Minute)}, now) {
		t.Error("1 error should allow again after 5 minutes")
	}
	if !prefixResolverAllowed(prefixState{Errors: 2}, now) {
		t.Error("2 errors should never suppress")
	}
	if prefixResolverAllowed(prefixState{Errors: 3, LastError: now}, now) {
		t.Error("3 errors should suppress immediately after the last error")
	}
	if !prefixResolverAllowed(prefixState{Errors: 3, LastError: now.Add(-31 * time.Minute)}, now) {
		t.Error("3 errors should allow again after 30 minutes")
	}
	if prefixResolverAllowed(prefixState{Errors: 5, LastError: now.Add(-119 * time.Minute)}, now) {
		t.Error("5+ errors should suppress for 120 minutes")
	}
	if !prefixResolverAllowed(prefixState{Errors: 5, LastError: now.Add(-121 * time.Minute)}, now) {
		t.Error("5+ errors should allow again after 120 minutes")
	}
}
