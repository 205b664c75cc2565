// Package explain picks the tokens the classifier attended to most.
package explain

import (
	"sort"

	"jobmail/internal/model"
)

// DefaultTopN is how many phrases an explanation carries.
const DefaultTopN = 3

// Phrase is one explaining token and the attention it received from [CLS].
type Phrase struct {
	Token    string  `json:"token"`
	Position int     `json:"position"`
	Weight   float64 `json:"weight"`
}

// Weights averages the last-layer attention over heads and returns the
// [CLS] query row. heads is indexed [head][query][key].
func Weights(heads [][][]float64) []float64 {
	if len(heads) == 0 || len(heads[0]) == 0 {
		return nil
	}
	row := make([]float64, len(heads[0][0]))
	for _, h := range heads {
		for k, w := range h[0] {
			row[k] += w
		}
	}
	for k := range row {
		row[k] /= float64(len(heads))
	}
	return row
}

// Top returns at most topN content tokens ordered by attention weight.
// Framing tokens and [UNK] are never returned. Ties keep sequence order so
// the result is stable.
func Top(tokens []string, heads [][][]float64, topN int) []Phrase {
	row := Weights(heads)
	n := min(len(tokens), len(row))

	cands := make([]Phrase, 0, n)
	for i := 0; i < n; i++ {
		if model.IsStructural(tokens[i]) || tokens[i] == model.UnkToken {
			continue
		}
		cands = append(cands, Phrase{Token: tokens[i], Position: i, Weight: row[i]})
	}
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].Weight > cands[b].Weight })
	if topN < 0 {
		topN = 0
	}
	if len(cands) > topN {
		cands = cands[:topN]
	}
	return cands
}

// Explain is Top reduced to the token strings.
func Explain(tokens []string, heads [][][]float64, topN int) []string {
	top := Top(tokens, heads, topN)
	out := make([]string, len(top))
	for i, p := range top {
		out[i] = p.Token
	}
	return out
}
