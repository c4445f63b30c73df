package guard

import (
	"testing"

	"github.com/casavista/listing-tile-cache/internal/model"
)

func points(n int) []model.Point {
	out := make([]model.Point, n)
	for i := range out {
		out[i] = model.Point{ID: int64(i + 1)}
	}
	return out
}

func TestApply_OverBudgetDropsAll(t *testing.T) {
	got, tooMany := Apply(points(1001), 1000)
	if !tooMany {
		t.Fatal("hasTooManyResults=false want true")
	}
	if len(got) != 0 {
		t.Fatalf("properties=%d want 0 (all-or-nothing, not truncation)", len(got))
	}
}

func TestApply_AtBudgetKeepsAll(t *testing.T) {
	in := points(1000)
	got, tooMany := Apply(in, 1000)
	if tooMany {
		t.Fatal("hasTooManyResults=true want false")
	}
	if len(got) != len(in) {
		t.Fatalf("properties=%d want %d", len(got), len(in))
	}
	for i := range in {
		if got[i].ID != in[i].ID {
			t.Fatalf("point %d changed", i)
		}
	}
}

func TestApply_ZeroBudgetDisablesGuard(t *testing.T) {
	got, tooMany := Apply(points(50), 0)
	if tooMany || len(got) != 50 {
		t.Fatalf("guard fired with no budget: tooMany=%v n=%d", tooMany, len(got))
	}
}
