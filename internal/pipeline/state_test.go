package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		from, to State
		retries  int
		want     bool
	}{
		{StateClassify, StateRouteControl, 0, true},
		{StateClassify, StateRetrieve, 0, false},
		{StateRouteControl, StateRetrieve, 0, false},
		{StateRouteInfo, StateToolCall, 0, true},
		{StateSynthesize, StateFinalize, 0, true},
		{StateValidate, StateRetrieve, 1, true},
		{StateValidate, StateRetrieve, 2, false},
		{StateRetrieve, StateClassify, 0, false},
		{StateRetrieve, StateFinalize, 0, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, allowed(tt.from, tt.to, tt.retries), "%s -> %s (retries %d)", tt.from, tt.to, tt.retries)
	}
}

func TestDegradedNextNeverLoops(t *testing.T) {
	for from, to := range degradedNext {
		assert.True(t, allowed(from, to, 0), "%s -> %s", from, to)
	}
}
