package model

import "math"

// node is anything in the autograd graph.
type node interface {
	inputs() []node
	backward()
}

// Vec is a differentiable vector: one hidden state, one weight row.
type Vec struct {
	Data []float64
	Grad []float64
	deps []node
	back func()
}

func NewVec(data []float64) *Vec {
	return &Vec{Data: data, Grad: make([]float64, len(data))}
}

func zeroVec(n int) *Vec { return NewVec(make([]float64, n)) }

func (v *Vec) inputs() []node { return v.deps }
func (v *Vec) backward() {
	if v.back != nil {
		v.back()
	}
}

// Scalar is a differentiable scalar: a loss or an attention logit.
type Scalar struct {
	Data float64
	Grad float64
	deps []node
	back func()
}

func (s *Scalar) inputs() []node { return s.deps }
func (s *Scalar) backward() {
	if s.back != nil {
		s.back()
	}
}

// Add is element-wise v + o.
func (v *Vec) Add(o *Vec) *Vec {
	n := len(v.Data)
	out := zeroVec(n)
	for i := 0; i < n; i++ {
		out.Data[i] = v.Data[i] + o.Data[i]
	}
	out.deps = []node{v, o}
	out.back = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += out.Grad[i]
			o.Grad[i] += out.Grad[i]
		}
	}
	return out
}

// ReLU is element-wise max(0, x).
func (v *Vec) ReLU() *Vec {
	n := len(v.Data)
	out := zeroVec(n)
	for i, x := range v.Data {
		if x > 0 {
			out.Data[i] = x
		}
	}
	out.deps = []node{v}
	out.back = func() {
		for i := 0; i < n; i++ {
			if v.Data[i] > 0 {
				v.Grad[i] += out.Grad[i]
			}
		}
	}
	return out
}

// Dot is the scalar product scaled by k.
func (v *Vec) Dot(o *Vec, k float64) *Scalar {
	sum := 0.0
	for i := range v.Data {
		sum += v.Data[i] * o.Data[i]
	}
	out := &Scalar{Data: sum * k, deps: []node{v, o}}
	out.back = func() {
		g := out.Grad * k
		for i := range v.Data {
			v.Grad[i] += o.Data[i] * g
			o.Grad[i] += v.Data[i] * g
		}
	}
	return out
}

// Slice returns v[start:end] as a graph node.
func (v *Vec) Slice(start, end int) *Vec {
	out := NewVec(append([]float64(nil), v.Data[start:end]...))
	out.deps = []node{v}
	out.back = func() {
		for i := range out.Grad {
			v.Grad[start+i] += out.Grad[i]
		}
	}
	return out
}

// Concat joins vectors end to end.
func Concat(parts []*Vec) *Vec {
	total := 0
	for _, p := range parts {
		total += len(p.Data)
	}
	out := zeroVec(total)
	deps := make([]node, len(parts))
	off := 0
	for i, p := range parts {
		copy(out.Data[off:], p.Data)
		off += len(p.Data)
		deps[i] = p
	}
	out.deps = deps
	out.back = func() {
		off := 0
		for _, p := range parts {
			for i := range p.Grad {
				p.Grad[i] += out.Grad[off+i]
			}
			off += len(p.Data)
		}
	}
	return out
}

// RMSNorm scales x by the inverse of its root mean square.
func RMSNorm(x *Vec) *Vec {
	n := len(x.Data)
	ms := 0.0
	for _, v := range x.Data {
		ms += v * v
	}
	ms /= float64(n)
	scale := 1.0 / math.Sqrt(ms+1e-5)

	out := zeroVec(n)
	for i, v := range x.Data {
		out.Data[i] = v * scale
	}
	out.deps = []node{x}
	out.back = func() {
		cross := 0.0
		for i := 0; i < n; i++ {
			cross += out.Grad[i] * x.Data[i]
		}
		k := cross * scale * scale * scale / float64(n)
		for i := 0; i < n; i++ {
			x.Grad[i] += scale*out.Grad[i] - k*x.Data[i]
		}
	}
	return out
}

// Softmax over scalar logits, differentiable.
func Softmax(logits []*Scalar) []*Scalar {
	n := len(logits)
	raw := make([]float64, n)
	for i, l := range logits {
		raw[i] = l.Data
	}
	probs := SoftmaxProbs(raw)

	deps := make([]node, n)
	for i, l := range logits {
		deps[i] = l
	}
	out := make([]*Scalar, n)
	for i := range out {
		out[i] = &Scalar{Data: probs[i], deps: deps}
	}
	for i := range out {
		ii := i
		out[ii].back = func() {
			g := out[ii].Grad
			if g == 0 {
				return
			}
			for j := 0; j < n; j++ {
				if j == ii {
					logits[j].Grad += g * probs[ii] * (1 - probs[ii])
				} else {
					logits[j].Grad -= g * probs[ii] * probs[j]
				}
			}
		}
	}
	return out
}

// WeightedSum is sum_t w[t] * values[t].
func WeightedSum(w []*Scalar, values []*Vec) *Vec {
	dim := len(values[0].Data)
	out := zeroVec(dim)
	for t, vt := range values {
		for j := 0; j < dim; j++ {
			out.Data[j] += w[t].Data * vt.Data[j]
		}
	}
	deps := make([]node, 0, 2*len(w))
	for _, s := range w {
		deps = append(deps, s)
	}
	for _, v := range values {
		deps = append(deps, v)
	}
	out.deps = deps
	out.back = func() {
		for t, vt := range values {
			for j := 0; j < dim; j++ {
				w[t].Grad += vt.Data[j] * out.Grad[j]
				vt.Grad[j] += w[t].Data * out.Grad[j]
			}
		}
	}
	return out
}

// CrossEntropy is -log softmax(logits)[target].
func CrossEntropy(logits *Vec, target int) *Scalar {
	probs := SoftmaxProbs(logits.Data)
	out := &Scalar{Data: -math.Log(math.Max(probs[target], 1e-12)), deps: []node{logits}}
	out.back = func() {
		for i := range logits.Grad {
			ind := 0.0
			if i == target {
				ind = 1
			}
			logits.Grad[i] += (probs[i] - ind) * out.Grad
		}
	}
	return out
}

// Mean averages scalars.
func Mean(xs []*Scalar) *Scalar {
	sum := 0.0
	deps := make([]node, len(xs))
	for i, x := range xs {
		sum += x.Data
		deps[i] = x
	}
	k := 1.0 / float64(len(xs))
	out := &Scalar{Data: sum * k, deps: deps}
	out.back = func() {
		for _, x := range xs {
			x.Grad += out.Grad * k
		}
	}
	return out
}

// Backward runs reverse-mode differentiation from root.
func Backward(root *Scalar) {
	var order []node
	seen := make(map[node]bool)
	var visit func(n node)
	visit = func(n node) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, d := range n.inputs() {
			visit(d)
		}
		order = append(order, n)
	}
	visit(root)

	root.Grad = 1
	for i := len(order) - 1; i >= 0; i-- {
		order[i].backward()
	}
}

// SoftmaxProbs is a numerically stable softmax on plain floats.
func SoftmaxProbs(xs []float64) []float64 {
	if len(xs) == 0 {
		return nil
	}
	maxV := xs[0]
	for _, x := range xs[1:] {
		if x > maxV {
			maxV = x
		}
	}
	out := make([]float64, len(xs))
	total := 0.0
	for i, x := range xs {
		out[i] = math.Exp(x - maxV)
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out
}
