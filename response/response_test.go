package response

import (
	"testing"

	"github.com/evalgo-org/evalcore/activeset"
)

func TestUpdateOverlaysRequestedSlotsOnly(t *testing.T) {
	full := activeset.Set{Request: []int{activeset.Value | activeset.Gradient}, DerivativeVarIDs: []int{1}}
	r := New(full, []string{"f1"})
	r.Values[0] = 1
	r.Gradients[0] = []float64{2}

	lighter := activeset.Set{Request: []int{activeset.Value}}
	lr := New(lighter, []string{"f1"})
	lr.Values[0] = 99

	r.Update(lr)

	if r.Values[0] != 99 {
		t.Fatalf("expected value overlay, got %v", r.Values[0])
	}
	if r.Gradients[0][0] != 2 {
		t.Fatalf("expected gradient untouched by lighter response, got %v", r.Gradients[0])
	}
}

func TestOverlaySumsAcrossServers(t *testing.T) {
	set := activeset.Set{Request: []int{activeset.Value}}
	a := New(set, []string{"f1"})
	a.Values[0] = 1
	b := New(set, []string{"f1"})
	b.Values[0] = 2

	a.Overlay(b)
	if a.Values[0] != 3 {
		t.Fatalf("expected summed value 3, got %v", a.Values[0])
	}
}
