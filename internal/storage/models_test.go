package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to TagStatus
		want     bool
	}{
		{TagStatusGenerated, TagStatusWritten, true},
		{TagStatusWritten, TagStatusLocked, true},
		{TagStatusGenerated, TagStatusFailed, true},
		{TagStatusWritten, TagStatusFailed, true},
		{TagStatusWritten, TagStatusRetired, true},
		{TagStatusLocked, TagStatusRetired, true},

		// Lifecycle only moves forward.
		{TagStatusWritten, TagStatusGenerated, false},
		{TagStatusLocked, TagStatusWritten, false},
		{TagStatusGenerated, TagStatusLocked, false},
		{TagStatusGenerated, TagStatusRetired, false},
		{TagStatusFailed, TagStatusWritten, false},
		{TagStatusFailed, TagStatusRetired, false},
		{TagStatusRetired, TagStatusLocked, false},
		{TagStatusLocked, TagStatusFailed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestAllowedPredecessorsMatchesCanTransition(t *testing.T) {
	statuses := []TagStatus{
		TagStatusGenerated, TagStatusWritten, TagStatusLocked,
		TagStatusFailed, TagStatusRetired,
	}

	for _, to := range statuses {
		allowed := allowedPredecessors(to)
		for _, from := range statuses {
			contains := false
			for _, a := range allowed {
				if a == string(from) {
					contains = true
				}
			}
			assert.Equal(t, from.CanTransition(to), contains,
				"SQL predicate and CanTransition disagree on %s -> %s", from, to)
		}
	}
}
