package explain

import (
	"math"
	"reflect"
	"testing"
)

// uniform builds h heads over t positions where every query row equals cls.
func uniform(h int, cls []float64) [][][]float64 {
	heads := make([][][]float64, h)
	for i := range heads {
		heads[i] = make([][]float64, len(cls))
		for q := range heads[i] {
			heads[i][q] = append([]float64(nil), cls...)
		}
	}
	return heads
}

func TestWeights_AveragesHeads(t *testing.T) {
	heads := [][][]float64{
		{{0.2, 0.8}, {0.5, 0.5}},
		{{0.6, 0.4}, {0.5, 0.5}},
	}
	got := Weights(heads)
	want := []float64{0.4, 0.6}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("weights=%v want %v", got, want)
		}
	}
}

func TestExplain_SkipsStructuralAndRanks(t *testing.T) {
	tokens := []string{"[CLS]", "thank", "you", "for", "applying", "[SEP]", "[PAD]"}
	cls := []float64{0.40, 0.05, 0.10, 0.02, 0.13, 0.20, 0.10}
	got := Explain(tokens, uniform(2, cls), 3)
	want := []string{"applying", "you", "thank"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExplain_SkipsUnknown(t *testing.T) {
	tokens := []string{"[CLS]", "[UNK]", "offer", "[UNK]", "salary", "[SEP]"}
	cls := []float64{0.1, 0.4, 0.1, 0.3, 0.05, 0.05}
	got := Explain(tokens, uniform(2, cls), 3)
	want := []string{"offer", "salary"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExplain_Bound(t *testing.T) {
	tokens := []string{"[CLS]", "we", "regret", "[SEP]"}
	got := Explain(tokens, uniform(1, []float64{0.25, 0.25, 0.25, 0.25}), 3)
	if len(got) != 2 {
		t.Fatalf("want both content tokens, got %v", got)
	}
	if got := Explain([]string{"[CLS]", "[SEP]"}, uniform(1, []float64{0.5, 0.5}), 3); len(got) != 0 {
		t.Fatalf("only structural tokens must explain nothing, got %v", got)
	}
	if got := Explain(tokens, nil, 3); len(got) != 0 {
		t.Fatalf("no attention must explain nothing, got %v", got)
	}
}

func TestExplain_TiesAreStable(t *testing.T) {
	tokens := []string{"[CLS]", "a", "b", "c", "d", "[SEP]"}
	heads := uniform(4, []float64{0, 0.25, 0.25, 0.25, 0.25, 0})
	first := Explain(tokens, heads, 3)
	for i := 0; i < 10; i++ {
		if got := Explain(tokens, heads, 3); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: %v != %v", i, got, first)
		}
	}
	if !reflect.DeepEqual(first, []string{"a", "b", "c"}) {
		t.Fatalf("ties should keep sequence order, got %v", first)
	}
}
