package dataset

import "testing"

func numbered(n int) Labeled {
	d := make(Labeled, n)
	for i := range d {
		d[i] = Example{Seq: int64(i + 1), Text: "t", Target: i % 2}
	}
	return d
}

func TestDeltaAndHistory(t *testing.T) {
	d := numbered(120)
	if got := d.Delta(100); len(got) != 20 || got[0].Seq != 101 {
		t.Fatalf("delta: len=%d first=%v", len(got), got)
	}
	if got := d.History(100); len(got) != 100 {
		t.Fatalf("history: %d", len(got))
	}
	if got := d.Delta(120); len(got) != 0 {
		t.Fatalf("delta at end should be empty, got %d", len(got))
	}
	if got := d.Delta(500); len(got) != 0 {
		t.Fatalf("delta past end should be empty, got %d", len(got))
	}
	if got := d.History(500); len(got) != 120 {
		t.Fatalf("history past end clamps, got %d", len(got))
	}
	if got := d.History(0); got != nil {
		t.Fatalf("history at 0 should be nil")
	}
}

func TestFromRecords_SkipsUnknownLabels(t *testing.T) {
	idx := map[string]int{"Application_Confirmation": 0, "Rejected": 1}
	recs := []Record{
		{Seq: 1, Label: "Rejected", CleanedText: "we regret"},
		{Seq: 2, Label: "Spam", CleanedText: "buy now"},
		{Seq: 3, Label: "Application_Confirmation", CleanedText: "thanks for applying"},
		{Seq: 4, Label: "Rejected", CleanedText: ""},
	}
	d, skipped := FromRecords(recs, idx)
	if skipped != 2 || len(d) != 2 {
		t.Fatalf("skipped=%d len=%d", skipped, len(d))
	}
	if d[0].Target != 1 || d[1].Target != 0 {
		t.Fatalf("targets: %+v", d)
	}
}
