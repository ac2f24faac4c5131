// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package remote

import (
	"testing"
	"time"

	"github.com/tomtom215/shelfsync/internal/validation"
)

func TestNewPushIDFormat(t *testing.T) {
	id := NewPushID()
	if len(id) != 20 {
		t.Fatalf("len = %d, want 20", len(id))
	}
	if !validation.IsEntityID(id) {
		t.Errorf("push id %q is not a valid entity id", id)
	}
}

func TestPushIDsOrderedWithinMillisecond(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	g := &pushIDGenerator{now: func() time.Time { return fixed }}

	prev := g.next()
	for i := 0; i < 1000; i++ {
		id := g.next()
		if id <= prev {
			t.Fatalf("id %d not increasing: %s <= %s", i, id, prev)
		}
		if id[:8] != prev[:8] {
			t.Fatalf("timestamp prefix changed within one millisecond")
		}
		prev = id
	}
}

func TestPushIDsOrderedAcrossTime(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	g := &pushIDGenerator{now: func() time.Time { return now }}
	a := g.next()
	now = now.Add(time.Millisecond)
	b := g.next()
	if b <= a {
		t.Errorf("later id sorts first: %s <= %s", b, a)
	}
}
