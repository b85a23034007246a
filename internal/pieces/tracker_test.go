package pieces

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blocks per piece
type geometry []int

func (g geometry) NumPieces() int          { return len(g) }
func (g geometry) BlockCount(piece int) int { return g[piece] }

func assertInvariant(t *testing.T, tr *Tracker) {
	t.Helper()
	for p := range tr.received {
		for b := range tr.received[p] {
			if tr.received[p][b] {
				assert.True(t, tr.requested[p][b], "block %d/%d received but not requested", p, b)
			}
		}
	}
}

func TestTracker(t *testing.T) {
	var tests = []struct {
		name   string
		setup  func() *Tracker
		assert func(t *testing.T, tr *Tracker)
	}{
		{
			name: "fresh tracker needs everything",
			setup: func() *Tracker {
				return New(geometry{2, 2, 1})
			},
			assert: func(t *testing.T, tr *Tracker) {
				assert.True(t, tr.Needed(0))
				assert.True(t, tr.NeededBlock(2, 0))
				assert.Equal(t, []int{0, 1, 2}, tr.Missing())
				assert.False(t, tr.Complete())
				assert.False(t, tr.Lost())
			},
		},
		{
			name: "bootstrap seeds requested and received",
			setup: func() *Tracker {
				tr := New(geometry{2, 2, 1})
				tr.Bootstrap([][]bool{{true, true}, {true, false}, {false}})
				return tr
			},
			assert: func(t *testing.T, tr *Tracker) {
				assert.False(t, tr.Needed(0))
				assert.True(t, tr.Needed(1))
				assert.False(t, tr.NeededBlock(1, 0))
				assert.Equal(t, []int{1, 2}, tr.Missing())
				if diff := cmp.Diff(tr.received, tr.requested); diff != "" {
					t.Errorf("requested differs from received (-received +requested):\n%s", diff)
				}
			},
		},
		{
			name: "piece level need ends once every block is requested",
			setup: func() *Tracker {
				tr := New(geometry{2})
				tr.MarkRequested(0, 0)
				return tr
			},
			assert: func(t *testing.T, tr *Tracker) {
				assert.True(t, tr.Needed(0))
				tr.MarkRequested(0, 1)
				assert.False(t, tr.Needed(0))
				assert.Equal(t, []int{0}, tr.Missing())
			},
		},
		{
			name: "receiving is idempotent and implies requested",
			setup: func() *Tracker {
				return New(geometry{2})
			},
			assert: func(t *testing.T, tr *Tracker) {
				assert.True(t, tr.MarkReceived(0, 1))
				assert.False(t, tr.MarkReceived(0, 1))
				assert.True(t, tr.requested[0][1])
				assert.False(t, tr.Release(0, 1))
				assert.False(t, tr.Lose(0, 1))
			},
		},
		{
			name: "stalled download resets requested to received",
			setup: func() *Tracker {
				tr := New(geometry{2, 1})
				tr.MarkRequested(0, 0)
				tr.MarkRequested(0, 1)
				tr.MarkRequested(1, 0)
				tr.MarkReceived(0, 0)
				return tr
			},
			assert: func(t *testing.T, tr *Tracker) {
				assert.False(t, tr.Complete())
				assert.True(t, tr.Lost())
				if diff := cmp.Diff(tr.received, tr.requested); diff != "" {
					t.Errorf("requested differs from received (-received +requested):\n%s", diff)
				}
				assert.Equal(t, []int{0, 1}, tr.Missing())
				assert.Equal(t, []BlockRef{{Piece: 0, Block: 1}, {Piece: 1, Block: 0}}, tr.TakeLost())
				assert.False(t, tr.Lost())
			},
		},
		{
			name: "timed out block is released onto the lost list",
			setup: func() *Tracker {
				tr := New(geometry{1})
				tr.MarkRequested(0, 0)
				return tr
			},
			assert: func(t *testing.T, tr *Tracker) {
				assert.True(t, tr.Lose(0, 0))
				assert.True(t, tr.NeededBlock(0, 0))
				assert.False(t, tr.Lose(0, 0))
				assert.Equal(t, []BlockRef{{Piece: 0, Block: 0}}, tr.TakeLost())
			},
		},
		{
			name: "complete stays complete",
			setup: func() *Tracker {
				tr := New(geometry{1, 1})
				tr.MarkReceived(0, 0)
				tr.MarkReceived(1, 0)
				return tr
			},
			assert: func(t *testing.T, tr *Tracker) {
				assert.True(t, tr.Complete())
				tr.MarkRequested(0, 0)
				assert.False(t, tr.Release(1, 0))
				assert.True(t, tr.Complete())
				assert.Empty(t, tr.Missing())
				received, total := tr.Counts()
				assert.Equal(t, 2, received)
				assert.Equal(t, 2, total)
			},
		},
		{
			name: "out of range indices are ignored",
			setup: func() *Tracker {
				return New(geometry{1})
			},
			assert: func(t *testing.T, tr *Tracker) {
				assert.False(t, tr.Needed(5))
				assert.False(t, tr.NeededBlock(0, 3))
				assert.False(t, tr.MarkReceived(-1, 0))
				tr.MarkRequested(2, 2)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tr := tt.setup()
			tt.assert(t, tr)
			assertInvariant(t, tr)
		})
	}
}

func TestTrackerInvariantAcrossMutations(t *testing.T) {
	tr := New(geometry{3, 3})
	ops := []func(){
		func() { tr.MarkRequested(0, 0) },
		func() { tr.MarkReceived(0, 0) },
		func() { tr.MarkRequested(0, 1) },
		func() { tr.Lose(0, 1) },
		func() { tr.MarkReceived(1, 2) },
		func() { tr.Release(1, 2) },
		func() { tr.Complete() },
		func() { tr.TakeLost() },
	}
	for _, op := range ops {
		op()
		assertInvariant(t, tr)
	}
	require.False(t, tr.Complete())
}
