package classifier

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"jobmail/internal/model"
)

var labels = []string{"Application_Confirmation", "Rejected"}

func testOptions() Options {
	return Options{Labels: labels, Threshold: 0.85, UncertainLabel: "Uncertain", TopN: 3, MaxTokens: 16}
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	tok := model.NewTokenizer()
	tok.Extend([]string{"thank you for applying", "we regret to inform you"}, 100)
	enc, err := model.NewEncoder(model.Shape{Embd: 8, Heads: 2, Layers: 2, MaxLen: 16}, tok.Size(), len(labels), 3)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	dir := t.TempDir()
	if err := model.Save(dir, &model.Checkpoint{Encoder: enc, Tokenizer: tok, Labels: labels}); err != nil {
		t.Fatalf("save: %v", err)
	}
	e, err := Load(dir, testOptions())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return e, dir
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name      string
		probs     []float64
		wantLabel string
		wantIdx   int
	}{
		{"scenario C low confidence", []float64{0.42, 0.58}, "Uncertain", 1},
		{"scenario D confident", []float64{0.93, 0.07}, "Application_Confirmation", 0},
		{"exactly at threshold", []float64{0.15, 0.85}, "Rejected", 1},
		{"just under threshold", []float64{0.1500001, 0.8499999}, "Uncertain", 1},
		{"empty", nil, "Uncertain", -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			label, idx, _ := Decide(tc.probs, labels, 0.85, "Uncertain")
			if label != tc.wantLabel || idx != tc.wantIdx {
				t.Fatalf("got %q/%d want %q/%d", label, idx, tc.wantLabel, tc.wantIdx)
			}
		})
	}
}

func TestDecide_GatingHoldsForAllInputs(t *testing.T) {
	for i := 0; i <= 100; i++ {
		p := float64(i) / 100
		label, _, conf := Decide([]float64{p, 1 - p}, labels, 0.85, "Uncertain")
		if conf < 0.85 && label != "Uncertain" {
			t.Fatalf("p=%v conf=%v labelled %q", p, conf, label)
		}
		if conf >= 0.85 && label == "Uncertain" {
			t.Fatalf("p=%v conf=%v should not be uncertain", p, conf)
		}
	}
}

func TestClassify_VerdictShape(t *testing.T) {
	e, _ := newTestEngine(t)
	v, err := e.Classify("m1", "thank you for applying to the backend role")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if v.RecordID != "m1" || v.Predicted == "" {
		t.Fatalf("verdict: %+v", v)
	}
	if v.Confidence < 0.5 || v.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", v.Confidence)
	}
	if v.Uncertain != (v.Confidence < 0.85) {
		t.Fatalf("gating mismatch: %+v", v)
	}
	if len(v.KeyPhrases) > 3 {
		t.Fatalf("too many key phrases: %v", v.KeyPhrases)
	}
	for _, p := range v.KeyPhrases {
		if model.IsStructural(p) {
			t.Fatalf("structural token in explanation: %v", v.KeyPhrases)
		}
	}
}

func TestClassify_ExplainsOutOfVocabularyWords(t *testing.T) {
	e, _ := newTestEngine(t)
	text := "interview scheduled offer onboarding salary"
	v, err := e.Classify("m1", text)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(v.KeyPhrases) != 3 {
		t.Fatalf("want 3 key phrases, got %v", v.KeyPhrases)
	}
	input := map[string]bool{}
	for _, w := range model.Words(text) {
		input[w] = true
	}
	for _, p := range v.KeyPhrases {
		if p == model.UnkToken || !input[p] {
			t.Fatalf("key phrase %q is not an input word: %v", p, v.KeyPhrases)
		}
	}
}

func TestClassify_IsPure(t *testing.T) {
	e, dir := newTestEngine(t)
	before, _ := os.ReadFile(filepath.Join(dir, "checkpoint.json"))

	first, err := e.Classify("m1", "we regret to inform you")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Classify("m1", "we regret to inform you")
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("repeated call differs: %+v vs %+v", first, again)
		}
	}
	if err := model.Save(dir, e.ckpt); err != nil {
		t.Fatalf("save: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, "checkpoint.json"))
	if string(before) != string(after) {
		t.Fatalf("classification changed model weights")
	}
}

func TestClassify_EmptyText(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Classify("m1", "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("want ErrEmptyText, got %v", err)
	}
}

func TestNew_RejectsLabelMismatch(t *testing.T) {
	e, _ := newTestEngine(t)
	opts := testOptions()
	opts.Labels = []string{"Rejected", "Application_Confirmation"}
	if _, err := New(e.ckpt, opts); err == nil {
		t.Fatalf("expected label mismatch")
	}
}

func TestLoad_MissingCheckpoint(t *testing.T) {
	if _, err := Load(t.TempDir(), testOptions()); !errors.Is(err, model.ErrCheckpointNotFound) {
		t.Fatalf("want ErrCheckpointNotFound, got %v", err)
	}
}

func TestHolder_LoadsLazilyAndKeepsEngineOnFailedReload(t *testing.T) {
	_, dir := newTestEngine(t)
	h := NewHolder(dir, testOptions())
	first, err := h.Engine()
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := os.Remove(model.Path(dir)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := h.Reload(); err == nil {
		t.Fatalf("reload of missing checkpoint should fail")
	}
	again, err := h.Engine()
	if err != nil || again != first {
		t.Fatalf("engine replaced after failed reload: %v", err)
	}

	empty := NewHolder(t.TempDir(), testOptions())
	if _, err := empty.Engine(); !errors.Is(err, ErrNoModel) {
		t.Fatalf("want ErrNoModel, got %v", err)
	}
}
