package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/resolver"
)

// References resolve only in the generation that issued them; older ones
// are stale and never-issued ones unknown, whatever the interleaving.
func TestHandleGenerationsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := resolver.NewHandles()
		issuedIn := map[int]int{}
		last := 0

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				hd := h.Issue(resolver.Handle{Kind: resolver.HandleVarObj})
				if hd.Ref <= last {
					t.Fatalf("reference %d not above %d", hd.Ref, last)
				}
				last = hd.Ref
				issuedIn[hd.Ref] = h.Generation()
			case 1:
				h.Advance()
			case 2:
				ref := rapid.IntRange(-2, last+3).Draw(t, "ref")
				_, err := h.Get(ref)
				gen, issued := issuedIn[ref]
				switch {
				case !issued:
					if !errors.Is(err, errors.CodeUnknownReference) {
						t.Fatalf("ref %d: want unknown, got %v", ref, err)
					}
				case gen == h.Generation():
					if err != nil {
						t.Fatalf("ref %d: live handle failed: %v", ref, err)
					}
				default:
					if !errors.Is(err, errors.CodeStaleReference) {
						t.Fatalf("ref %d: want stale, got %v", ref, err)
					}
				}
			}
		}
	})
}

func TestFirstHost(t *testing.T) {
	tt := resolver.NewThreadTable()
	_, ok := tt.FirstHost()
	assert.False(t, ok)

	tt.AddHost(7, "worker")
	tt.AddHost(3, "main")
	id, ok := tt.FirstHost()
	assert.True(t, ok)
	assert.Equal(t, 3, id)
}
