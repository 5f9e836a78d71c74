package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func messages(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Message
	}
	return out
}

func TestRing(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		pushes int
		last   int
		want   []string
	}{
		{name: "empty", size: 3, pushes: 0, last: 0, want: []string{}},
		{name: "partial", size: 3, pushes: 2, last: 0, want: []string{"m0", "m1"}},
		{name: "exactly full", size: 3, pushes: 3, last: 0, want: []string{"m0", "m1", "m2"}},
		{name: "wrapped", size: 3, pushes: 5, last: 0, want: []string{"m2", "m3", "m4"}},
		{name: "last subset after wrap", size: 3, pushes: 5, last: 2, want: []string{"m3", "m4"}},
		{name: "last larger than count", size: 4, pushes: 2, last: 10, want: []string{"m0", "m1"}},
		{name: "zero size clamps to one", size: 0, pushes: 3, last: 0, want: []string{"m2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRing(tt.size)
			for i := 0; i < tt.pushes; i++ {
				r.Push(Record{Message: fmt.Sprintf("m%d", i)})
			}
			assert.Equal(t, tt.want, messages(r.Last(tt.last)))
			assert.LessOrEqual(t, r.Len(), r.Cap())
		})
	}
}

func TestRing_Reset(t *testing.T) {
	r := NewRing(2)
	r.Push(Record{Message: "a"})
	r.Push(Record{Message: "b"})
	r.Reset()

	assert.Equal(t, 0, r.Len())
	r.Push(Record{Message: "c"})
	assert.Equal(t, []string{"c"}, messages(r.Last(0)))
}
