package dataset

import "time"

// Record is one message as stored. Label is empty until known.
type Record struct {
	Seq         int64     `json:"seq"`
	MessageID   string    `json:"message_id"`
	ReceivedAt  time.Time `json:"received_at"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	Label       string    `json:"label,omitempty"`
	RawText     string    `json:"raw_text"`
	CleanedText string    `json:"cleaned_text"`
}

// Example is a labelled training row: cleaned text and class index.
type Example struct {
	Seq    int64
	Text   string
	Target int
}

// Labeled is the append-only, position-indexed training set.
type Labeled []Example

func (d Labeled) Len() int { return len(d) }

// Delta returns the rows at positions [cursor, len). A cursor past the
// end yields an empty slice.
func (d Labeled) Delta(cursor int) Labeled {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(d) {
		return nil
	}
	return d[cursor:]
}

// History returns the rows at positions [0, cursor).
func (d Labeled) History(cursor int) Labeled {
	if cursor <= 0 {
		return nil
	}
	if cursor > len(d) {
		cursor = len(d)
	}
	return d[:cursor]
}

// Texts lists the text of every example.
func (d Labeled) Texts() []string {
	out := make([]string, len(d))
	for i, e := range d {
		out[i] = e.Text
	}
	return out
}

// FromRecords keeps records whose label is in index, in order.
func FromRecords(records []Record, index map[string]int) (Labeled, int) {
	out := make(Labeled, 0, len(records))
	skipped := 0
	for _, r := range records {
		target, ok := index[r.Label]
		if !ok || r.CleanedText == "" {
			skipped++
			continue
		}
		out = append(out, Example{Seq: r.Seq, Text: r.CleanedText, Target: target})
	}
	return out, skipped
}
