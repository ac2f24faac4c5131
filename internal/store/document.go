// Shelfsync - Offline-first Retail Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package store

import (
	"math"

	"github.com/goccy/go-json"
)

// IntField reads a numeric field regardless of how JSON decoding typed it.
func IntField(doc Document, field string) (int, bool) {
	switch v := doc[field].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(math.Round(v)), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// StringField reads a string field.
func StringField(doc Document, field string) string {
	s, _ := doc[field].(string)
	return s
}

func clone(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// StripSyncFields returns a copy of doc without the local-only sync attributes.
func StripSyncFields(doc Document) Document {
	out := clone(doc)
	delete(out, FieldNeedsSync)
	delete(out, FieldCreatedOfflineAt)
	return out
}
