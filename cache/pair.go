package cache

import (
	"github.com/evalgo-org/evalcore/activeset"
	"github.com/evalgo-org/evalcore/response"
	"github.com/evalgo-org/evalcore/variables"
)

// Pair is a ParamResponsePair: the unit both the scheduler's pending queue
// and the evaluation cache traffic in. EvaluationID is strictly positive
// for in-run evaluations and non-positive for entries loaded from a
// restart journal written by a prior run.
type Pair struct {
	EvaluationID int64
	InterfaceID  string
	Variables    variables.Set
	ActiveSet    activeset.Set
	Response     *response.Response
}

// wireRecord is the JSON shape written to the restart journal (the
// driver's parameter/results files use their own record type); keeping it
// separate from Pair insulates the
// in-memory representation from wire-format changes.
type wireRecord struct {
	EvaluationID int64           `json:"evaluationId"`
	InterfaceID  string          `json:"interfaceId"`
	Variables    variables.Set   `json:"variables"`
	ActiveSet    activeset.Set   `json:"activeSet"`
	Response     *response.Response `json:"response,omitempty"`
}

func (p Pair) toWire() wireRecord {
	return wireRecord{
		EvaluationID: p.EvaluationID,
		InterfaceID:  p.InterfaceID,
		Variables:    p.Variables,
		ActiveSet:    p.ActiveSet,
		Response:     p.Response,
	}
}

func fromWire(w wireRecord) Pair {
	return Pair{
		EvaluationID: w.EvaluationID,
		InterfaceID:  w.InterfaceID,
		Variables:    w.Variables,
		ActiveSet:    w.ActiveSet,
		Response:     w.Response,
	}
}

// Clone deep-copies the pair's Response so cache inserts and callers never
// share mutable state.
func (p Pair) Clone() Pair {
	c := p
	if p.Response != nil {
		r := *p.Response
		r.Values = append([]float64(nil), p.Response.Values...)
		r.Labels = append([]string(nil), p.Response.Labels...)
		r.Gradients = cloneMatrix(p.Response.Gradients)
		r.Hessians = cloneTensor(p.Response.Hessians)
		c.Response = &r
	}
	return c
}

func cloneMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func cloneTensor(t [][][]float64) [][][]float64 {
	if t == nil {
		return nil
	}
	out := make([][][]float64, len(t))
	for i, mat := range t {
		out[i] = cloneMatrix(mat)
	}
	return out
}
