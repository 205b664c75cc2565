package model

import "math"

// AdamW is Adam with decoupled weight decay and element-wise grad clipping.
type AdamW struct {
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	Clip        float64

	m, v [][]float64
	t    int
}

func NewAdamW(params []*Vec, weightDecay float64) *AdamW {
	a := &AdamW{Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, WeightDecay: weightDecay, Clip: 1.0}
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Data))
		a.v[i] = make([]float64, len(p.Data))
	}
	return a
}

// Step applies one update with learning rate lr and zeroes gradients.
func (a *AdamW) Step(params []*Vec, lr float64) {
	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i, p := range params {
		mi, vi := a.m[i], a.v[i]
		for j := range p.Data {
			g := p.Grad[j]
			if a.Clip > 0 {
				g = math.Max(-a.Clip, math.Min(a.Clip, g))
			}
			mi[j] = a.Beta1*mi[j] + (1-a.Beta1)*g
			vi[j] = a.Beta2*vi[j] + (1-a.Beta2)*g*g
			p.Data[j] -= lr * (mi[j]/c1/(math.Sqrt(vi[j]/c2)+a.Eps) + a.WeightDecay*p.Data[j])
			p.Grad[j] = 0
		}
	}
}

// ZeroGrad clears accumulated gradients without updating.
func ZeroGrad(params []*Vec) {
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] = 0
		}
	}
}
