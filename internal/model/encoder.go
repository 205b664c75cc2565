package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const initStd = 0.08

// Shape fixes the encoder dimensions.
type Shape struct {
	Embd   int `json:"embd"`
	Heads  int `json:"heads"`
	Layers int `json:"layers"`
	MaxLen int `json:"max_len"`
}

func (s Shape) Validate() error {
	if s.Embd <= 0 || s.Heads <= 0 || s.Layers <= 0 || s.MaxLen < 3 {
		return fmt.Errorf("invalid shape %+v", s)
	}
	if s.Embd%s.Heads != 0 {
		return fmt.Errorf("heads %d do not divide embd %d", s.Heads, s.Embd)
	}
	return nil
}

// Matrix is a weight matrix stored as rows, shape (Nout, Nin).
type Matrix struct {
	Rows []*Vec
	Nout int
	Nin  int
}

func newMatrix(nout, nin int, std float64, rng *rand.Rand) *Matrix {
	m := &Matrix{Nin: nin}
	m.grow(nout, std, rng)
	return m
}

func (m *Matrix) grow(nout int, std float64, rng *rand.Rand) {
	for i := m.Nout; i < nout; i++ {
		d := make([]float64, m.Nin)
		for j := range d {
			d[j] = rng.NormFloat64() * std
		}
		m.Rows = append(m.Rows, NewVec(d))
	}
	if nout > m.Nout {
		m.Nout = nout
	}
}

// Matvec computes m @ x.
func (m *Matrix) Matvec(x *Vec) *Vec {
	out := zeroVec(m.Nout)
	for i, row := range m.Rows {
		s := 0.0
		for j, w := range row.Data {
			s += w * x.Data[j]
		}
		out.Data[i] = s
	}
	deps := make([]node, 0, m.Nout+1)
	for _, r := range m.Rows {
		deps = append(deps, r)
	}
	out.deps = append(deps, x)
	rows := m.Rows
	out.back = func() {
		for i, row := range rows {
			g := out.Grad[i]
			if g == 0 {
				continue
			}
			for j := range row.Data {
				row.Grad[j] += g * x.Data[j]
				x.Grad[j] += g * row.Data[j]
			}
		}
	}
	return out
}

// Encoder is a small bidirectional transformer with a classification head
// read from the [CLS] position.
type Encoder struct {
	Shape     Shape
	NumLabels int
	params    map[string]*Matrix
}

// NewEncoder initialises weights from seed.
func NewEncoder(shape Shape, vocab, labels int, seed int64) (*Encoder, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if vocab < numSpecial || labels < 2 {
		return nil, fmt.Errorf("need vocab >= %d and labels >= 2, got %d/%d", numSpecial, vocab, labels)
	}
	rng := rand.New(rand.NewSource(seed))
	e := &Encoder{Shape: shape, NumLabels: labels, params: make(map[string]*Matrix)}
	E := shape.Embd
	e.params["wte"] = newMatrix(vocab, E, initStd, rng)
	e.params["wpe"] = newMatrix(shape.MaxLen, E, initStd, rng)
	for l := 0; l < shape.Layers; l++ {
		p := layerPrefix(l)
		e.params[p+"wq"] = newMatrix(E, E, initStd, rng)
		e.params[p+"wk"] = newMatrix(E, E, initStd, rng)
		e.params[p+"wv"] = newMatrix(E, E, initStd, rng)
		e.params[p+"wo"] = newMatrix(E, E, initStd, rng)
		e.params[p+"fc1"] = newMatrix(4*E, E, initStd, rng)
		e.params[p+"fc2"] = newMatrix(E, 4*E, initStd, rng)
	}
	e.params["head"] = newMatrix(labels, E, initStd, rng)
	e.params["head_bias"] = newMatrix(1, labels, 0, rng)
	return e, nil
}

func layerPrefix(l int) string { return fmt.Sprintf("l%d.", l) }

// VocabSize is the number of embedding rows.
func (e *Encoder) VocabSize() int { return e.params["wte"].Nout }

// GrowVocab appends embedding rows so ids up to n-1 are valid.
func (e *Encoder) GrowVocab(n int, seed int64) {
	wte := e.params["wte"]
	if n <= wte.Nout {
		return
	}
	wte.grow(n, initStd, rand.New(rand.NewSource(seed+int64(wte.Nout))))
}

// ResetHead replaces the classification head for a new label count.
func (e *Encoder) ResetHead(labels int, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	e.NumLabels = labels
	e.params["head"] = newMatrix(labels, e.Shape.Embd, initStd, rng)
	e.params["head_bias"] = newMatrix(1, labels, 0, rng)
}

// ParamNames returns parameter names in a stable order.
func (e *Encoder) ParamNames() []string {
	names := make([]string, 0, len(e.params))
	for n := range e.params {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Params returns every trainable row, in ParamNames order.
func (e *Encoder) Params() []*Vec {
	var out []*Vec
	for _, n := range e.ParamNames() {
		out = append(out, e.params[n].Rows...)
	}
	return out
}

// Output is the result of one forward pass.
type Output struct {
	logits []float64
	probs  []float64
	// attention[layer][head][query][key]
	attention [][][][]float64
}

// Logits are the raw class scores.
func (o *Output) Logits() []float64 { return o.logits }

// Probabilities is the softmax over class scores.
func (o *Output) Probabilities() []float64 { return o.probs }

// LastLayerAttention is the per-head attention of the final layer,
// indexed [head][query][key].
func (o *Output) LastLayerAttention() [][][]float64 {
	if len(o.attention) == 0 {
		return nil
	}
	return o.attention[len(o.attention)-1]
}

// Predict runs a forward pass for inference.
func (e *Encoder) Predict(ids []int) (*Output, error) {
	logits, attn, err := e.forward(ids)
	if err != nil {
		return nil, err
	}
	return &Output{
		logits:    append([]float64(nil), logits.Data...),
		probs:     SoftmaxProbs(logits.Data),
		attention: attn,
	}, nil
}

// Loss builds the cross-entropy graph for one labelled sequence.
func (e *Encoder) Loss(ids []int, target int) (*Scalar, error) {
	if target < 0 || target >= e.NumLabels {
		return nil, fmt.Errorf("target %d out of range [0,%d)", target, e.NumLabels)
	}
	logits, _, err := e.forward(ids)
	if err != nil {
		return nil, err
	}
	return CrossEntropy(logits, target), nil
}

func (e *Encoder) forward(ids []int) (*Vec, [][][][]float64, error) {
	T := len(ids)
	if T == 0 {
		return nil, nil, fmt.Errorf("empty sequence")
	}
	if T > e.Shape.MaxLen {
		T = e.Shape.MaxLen
		ids = ids[:T]
	}
	wte, wpe := e.params["wte"], e.params["wpe"]
	xs := make([]*Vec, T)
	for t, id := range ids {
		if id < 0 || id >= wte.Nout {
			id = UnkID
		}
		xs[t] = wte.Rows[id].Add(wpe.Rows[t])
	}

	H := e.Shape.Heads
	hd := e.Shape.Embd / H
	inv := 1.0 / math.Sqrt(float64(hd))
	attn := make([][][][]float64, e.Shape.Layers)

	for l := 0; l < e.Shape.Layers; l++ {
		p := layerPrefix(l)
		qs, ks, vs := make([]*Vec, T), make([]*Vec, T), make([]*Vec, T)
		for t, x := range xs {
			h := RMSNorm(x)
			qs[t] = e.params[p+"wq"].Matvec(h)
			ks[t] = e.params[p+"wk"].Matvec(h)
			vs[t] = e.params[p+"wv"].Matvec(h)
		}

		layerAttn := make([][][]float64, H)
		heads := make([][]*Vec, T)
		for h := 0; h < H; h++ {
			lo, hi := h*hd, (h+1)*hd
			kh, vh := make([]*Vec, T), make([]*Vec, T)
			for t := 0; t < T; t++ {
				kh[t] = ks[t].Slice(lo, hi)
				vh[t] = vs[t].Slice(lo, hi)
			}
			layerAttn[h] = make([][]float64, T)
			for q := 0; q < T; q++ {
				qh := qs[q].Slice(lo, hi)
				scores := make([]*Scalar, T)
				for k := 0; k < T; k++ {
					scores[k] = qh.Dot(kh[k], inv)
				}
				w := Softmax(scores)
				row := make([]float64, T)
				for k := range w {
					row[k] = w[k].Data
				}
				layerAttn[h][q] = row
				heads[q] = append(heads[q], WeightedSum(w, vh))
			}
		}
		attn[l] = layerAttn

		for t := range xs {
			x := xs[t].Add(e.params[p+"wo"].Matvec(Concat(heads[t])))
			m := e.params[p+"fc1"].Matvec(RMSNorm(x)).ReLU()
			xs[t] = x.Add(e.params[p+"fc2"].Matvec(m))
		}
	}

	cls := RMSNorm(xs[0])
	logits := e.params["head"].Matvec(cls).Add(e.params["head_bias"].Rows[0])
	return logits, attn, nil
}
