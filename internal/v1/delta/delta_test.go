package delta

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_ChangedAndDeleted(t *testing.T) {
	prev := map[string]any{
		"phase": "lobby",
		"round": 1,
		"scores": map[string]any{
			"p1": 100,
			"p2": 50,
		},
	}
	next := map[string]any{
		"phase": "playing",
		"scores": map[string]any{
			"p1": 200,
			"p3": 10,
		},
	}

	d := Diff(prev, next)

	assert.Equal(t, "playing", d.Changed["phase"])
	assert.Equal(t, 200, d.Changed["scores.p1"])
	assert.Equal(t, 10, d.Changed["scores.p3"])
	assert.ElementsMatch(t, []string{"round", "scores.p2"}, d.Deleted)
}

func TestDiff_SlicesReplacedWholesale(t *testing.T) {
	prev := map[string]any{"options": []any{"a", "b"}}
	next := map[string]any{"options": []any{"a", "c"}}

	d := Diff(prev, next)
	assert.Equal(t, []any{"a", "c"}, d.Changed["options"])
	assert.Empty(t, d.Deleted)

	// Value-equal slices produce no change.
	assert.True(t, Diff(next, map[string]any{"options": []any{"a", "c"}}).Empty())
}

func TestDiff_Identical(t *testing.T) {
	state := map[string]any{"a": 1, "nested": map[string]any{"b": "x"}}
	assert.True(t, Diff(state, state).Empty())
}

// apply(base, diff(base, next)) == next must hold for every state pair.
func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		prev map[string]any
		next map[string]any
	}{
		{
			name: "flat",
			prev: map[string]any{"a": 1, "b": 2},
			next: map[string]any{"a": 1, "c": 3},
		},
		{
			name: "nested addition",
			prev: map[string]any{},
			next: map[string]any{"game": map[string]any{"round": 2, "question": map[string]any{"prompt": "?"}}},
		},
		{
			name: "nested deletion",
			prev: map[string]any{"game": map[string]any{"round": 2, "answers": map[string]any{"p1": 0}}},
			next: map[string]any{"game": map[string]any{"round": 3}},
		},
		{
			name: "type change",
			prev: map[string]any{"value": map[string]any{"inner": 1}},
			next: map[string]any{"value": "scalar"},
		},
		{
			name: "empty next",
			prev: map[string]any{"a": 1, "b": map[string]any{"c": 2}},
			next: map[string]any{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Apply(tc.prev, Diff(tc.prev, tc.next))
			if diff := cmp.Diff(tc.next, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApply_DoesNotMutateBase(t *testing.T) {
	base := map[string]any{"scores": map[string]any{"p1": 1}}
	d := &Delta{Changed: map[string]any{"scores.p1": 2}}

	out := Apply(base, d)

	assert.Equal(t, 1, base["scores"].(map[string]any)["p1"])
	assert.Equal(t, 2, out["scores"].(map[string]any)["p1"])
}

func TestApply_NilDelta(t *testing.T) {
	base := map[string]any{"a": 1}
	out := Apply(base, nil)
	require.Equal(t, base, out)
}

// Merge(d1, d2) applied in one step must equal applying d1 then d2.
func TestMerge_Composition(t *testing.T) {
	base := map[string]any{
		"phase": "lobby",
		"game":  map[string]any{"round": 1, "revealed": false},
	}
	mid := map[string]any{
		"phase": "playing",
		"game":  map[string]any{"round": 1, "revealed": true},
	}
	final := map[string]any{
		"phase": "playing",
		"game":  map[string]any{"round": 2},
	}

	d1 := Diff(base, mid)
	d2 := Diff(mid, final)
	merged := Merge(d1, d2)

	sequential := Apply(Apply(base, d1), d2)
	composed := Apply(base, merged)
	if diff := cmp.Diff(sequential, composed); diff != "" {
		t.Errorf("merge composition mismatch (-sequential +composed):\n%s", diff)
	}
}

func TestMerge_DeleteSupersedesChange(t *testing.T) {
	d1 := &Delta{Changed: map[string]any{"game.round": 2, "game.revealed": true}}
	d2 := &Delta{Deleted: []string{"game"}}

	merged := Merge(d1, d2)
	assert.Empty(t, merged.Changed)
	assert.Equal(t, []string{"game"}, merged.Deleted)
}

func TestMerge_ChangeUnderDeletedParent(t *testing.T) {
	d1 := &Delta{Deleted: []string{"game"}}
	d2 := &Delta{Changed: map[string]any{"game.round": 1}}

	merged := Merge(d1, d2)
	assert.Equal(t, 1, merged.Changed["game.round"])
	// The parent deletion survives so stale siblings cannot leak through.
	assert.Equal(t, []string{"game"}, merged.Deleted)

	base := map[string]any{"game": map[string]any{"round": 9, "stale": true}}
	sequential := Apply(Apply(base, d1), d2)
	assert.Equal(t, sequential, Apply(base, merged))
}
