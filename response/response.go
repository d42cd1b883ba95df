// Package response defines the evaluation output tuple: function values,
// gradients, Hessians, the active-set that was actually populated, and the
// function labels. Components are present only where the owning active-set
// requested them.
package response

import "github.com/evalgo-org/evalcore/activeset"

// Response holds the (possibly partial) output of one evaluation.
type Response struct {
	Labels    []string
	Values    []float64
	Gradients [][]float64   // [function][derivative-variable]
	Hessians  [][][]float64 // [function][derivative-variable][derivative-variable]
	Set       activeset.Set
}

// New allocates a Response sized for the given active set.
func New(set activeset.Set, labels []string) *Response {
	n := set.NumFunctions()
	r := &Response{
		Labels: labels,
		Set:    set,
		Values: make([]float64, n),
	}
	d := len(set.DerivativeVarIDs)
	r.Gradients = make([][]float64, n)
	r.Hessians = make([][][]float64, n)
	for i := 0; i < n; i++ {
		if set.WantsGradient(i) {
			r.Gradients[i] = make([]float64, d)
		}
		if set.WantsHessian(i) {
			h := make([][]float64, d)
			for j := range h {
				h[j] = make([]float64, d)
			}
			r.Hessians[i] = h
		}
	}
	return r
}

// Update merges a lighter response (fewer active-set bits) into the
// receiver, overlaying only the slots the lighter response actually
// requested. The receiver's active-set grows to the union of both.
func (r *Response) Update(lighter *Response) {
	if lighter == nil {
		return
	}
	for i := 0; i < lighter.Set.NumFunctions() && i < len(r.Values); i++ {
		if lighter.Set.WantsValue(i) {
			r.Values[i] = lighter.Values[i]
		}
		if lighter.Set.WantsGradient(i) && lighter.Gradients[i] != nil {
			r.Gradients[i] = lighter.Gradients[i]
		}
		if lighter.Set.WantsHessian(i) && lighter.Hessians[i] != nil {
			r.Hessians[i] = lighter.Hessians[i]
		}
	}
	r.Set = union(r.Set, lighter.Set)
}

// Overlay element-wise sums o into r across every active slot. Used by the
// shell transport to combine the per-driver results of a multi-driver job.
func (r *Response) Overlay(o *Response) {
	if o == nil {
		return
	}
	for i := range r.Values {
		if i < len(o.Values) && r.Set.WantsValue(i) {
			r.Values[i] += o.Values[i]
		}
		if i < len(o.Gradients) && r.Set.WantsGradient(i) && o.Gradients[i] != nil {
			for j := range r.Gradients[i] {
				if j < len(o.Gradients[i]) {
					r.Gradients[i][j] += o.Gradients[i][j]
				}
			}
		}
		if i < len(o.Hessians) && r.Set.WantsHessian(i) && o.Hessians[i] != nil {
			for j := range r.Hessians[i] {
				if j < len(o.Hessians[i]) {
					for k := range r.Hessians[i][j] {
						if k < len(o.Hessians[i][j]) {
							r.Hessians[i][j][k] += o.Hessians[i][j][k]
						}
					}
				}
			}
		}
	}
}

func union(a, b activeset.Set) activeset.Set {
	n := len(a.Request)
	if len(b.Request) > n {
		n = len(b.Request)
	}
	req := make([]int, n)
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a.Request) {
			x = a.Request[i]
		}
		if i < len(b.Request) {
			y = b.Request[i]
		}
		req[i] = x | y
	}
	return activeset.Set{Request: req, DerivativeVarIDs: a.DerivativeVarIDs}
}
