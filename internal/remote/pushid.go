// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package remote

import (
	"crypto/rand"
	"sync"
	"time"
)

// pushChars is ordered by ASCII value so ids sort lexicographically.
const pushChars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

var pushGen = &pushIDGenerator{now: time.Now}

type pushIDGenerator struct {
	mu       sync.Mutex
	now      func() time.Time
	lastTime int64
	lastRand [12]byte
}

// NewPushID returns a 20 character id: 8 characters of millisecond
// timestamp followed by 12 random characters. Ids generated in the same
// millisecond increment the random part, so ids from one process are
// strictly ordered.
func NewPushID() string {
	return pushGen.next()
}

func (g *pushIDGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UnixMilli()
	if ts == g.lastTime {
		// Increment the random suffix, carrying into earlier positions.
		i := len(g.lastRand) - 1
		for ; i >= 0 && g.lastRand[i] == 63; i-- {
			g.lastRand[i] = 0
		}
		if i >= 0 {
			g.lastRand[i]++
		}
	} else {
		var buf [12]byte
		_, _ = rand.Read(buf[:])
		for i := range buf {
			g.lastRand[i] = buf[i] % 64
		}
		g.lastTime = ts
	}

	var id [20]byte
	for i := 7; i >= 0; i-- {
		id[i] = pushChars[ts%64]
		ts /= 64
	}
	for i, r := range g.lastRand {
		id[8+i] = pushChars[r]
	}
	return string(id[:])
}
