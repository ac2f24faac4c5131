// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package inventory

// Band classifies a quantity relative to the item's reorder level.
type Band string

// Stock bands, best to worst.
const (
	BandOK  Band = "ok"
	BandLow Band = "low"
	BandOut Band = "out"
)

// BandOf returns the band of qty for an item with the given reorder level.
func BandOf(qty, reorderLevel int) Band {
	switch {
	case qty <= 0:
		return BandOut
	case qty <= reorderLevel:
		return BandLow
	default:
		return BandOK
	}
}

func (b Band) severity() int {
	switch b {
	case BandOut:
		return 2
	case BandLow:
		return 1
	default:
		return 0
	}
}

// Crossed reports whether moving from one band to another raises an alert:
// only moves into a worse band do. Staying low, or recovering from out to
// low, does not.
func Crossed(from, to Band) bool {
	return to.severity() > from.severity()
}
