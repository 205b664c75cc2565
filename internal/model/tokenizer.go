package model

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

const (
	PadToken = "[PAD]"
	UnkToken = "[UNK]"
	ClsToken = "[CLS]"
	SepToken = "[SEP]"
)

// Reserved ids. [CLS] always sits at position 0 of an encoded sequence.
const (
	PadID = iota
	UnkID
	ClsID
	SepID
	numSpecial
)

// Tokenizer is a lowercase word-level vocabulary that only ever grows, so
// ids stay valid across warm starts.
type Tokenizer struct {
	tokens []string
	index  map[string]int
}

func NewTokenizer() *Tokenizer {
	t := &Tokenizer{index: make(map[string]int)}
	for _, s := range []string{PadToken, UnkToken, ClsToken, SepToken} {
		t.add(s)
	}
	return t
}

// TokenizerFromVocab restores a tokenizer saved with Vocab.
func TokenizerFromVocab(tokens []string) (*Tokenizer, error) {
	want := []string{PadToken, UnkToken, ClsToken, SepToken}
	if len(tokens) < len(want) {
		return nil, fmt.Errorf("vocab too small: %d tokens", len(tokens))
	}
	for i, s := range want {
		if tokens[i] != s {
			return nil, fmt.Errorf("vocab slot %d: want %s, got %q", i, s, tokens[i])
		}
	}
	t := &Tokenizer{index: make(map[string]int, len(tokens))}
	for _, s := range tokens {
		if _, dup := t.index[s]; dup {
			return nil, fmt.Errorf("vocab has duplicate token %q", s)
		}
		t.add(s)
	}
	return t, nil
}

func (t *Tokenizer) add(tok string) int {
	id := len(t.tokens)
	t.tokens = append(t.tokens, tok)
	t.index[tok] = id
	return id
}

// Words splits text into lowercase word pieces.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func clip(words []string, maxLen int) []string {
	if maxLen > 2 && len(words) > maxLen-2 {
		return words[:maxLen-2]
	}
	return words
}

// Encode returns [CLS] w1 .. wn [SEP], truncated to maxLen ids.
func (t *Tokenizer) Encode(text string, maxLen int) []int {
	words := clip(Words(text), maxLen)
	ids := make([]int, 0, len(words)+2)
	ids = append(ids, ClsID)
	for _, w := range words {
		id, ok := t.index[w]
		if !ok {
			id = UnkID
		}
		ids = append(ids, id)
	}
	return append(ids, SepID)
}

// Surface returns the words Encode would see, framed the same way, so
// position i names the input word behind id i even when it is out of
// vocabulary.
func (t *Tokenizer) Surface(text string, maxLen int) []string {
	words := clip(Words(text), maxLen)
	out := make([]string, 0, len(words)+2)
	out = append(out, ClsToken)
	out = append(out, words...)
	return append(out, SepToken)
}

// Extend adds unseen words from texts, most frequent first, until the
// vocabulary reaches maxVocab. Returns the number of tokens added.
func (t *Tokenizer) Extend(texts []string, maxVocab int) int {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, w := range Words(text) {
			if _, known := t.index[w]; !known {
				counts[w]++
			}
		}
	}
	fresh := make([]string, 0, len(counts))
	for w := range counts {
		fresh = append(fresh, w)
	}
	sort.Slice(fresh, func(i, j int) bool {
		if counts[fresh[i]] != counts[fresh[j]] {
			return counts[fresh[i]] > counts[fresh[j]]
		}
		return fresh[i] < fresh[j]
	})

	added := 0
	for _, w := range fresh {
		if maxVocab > 0 && len(t.tokens) >= maxVocab {
			break
		}
		t.add(w)
		added++
	}
	return added
}

func (t *Tokenizer) Size() int { return len(t.tokens) }

// Vocab returns a copy of the id-ordered token list.
func (t *Tokenizer) Vocab() []string { return append([]string(nil), t.tokens...) }

func (t *Tokenizer) Token(id int) string {
	if id < 0 || id >= len(t.tokens) {
		return UnkToken
	}
	return t.tokens[id]
}

// IsStructural reports whether tok is a framing token that carries no
// content of its own.
func IsStructural(tok string) bool {
	return tok == ClsToken || tok == SepToken || tok == PadToken
}
