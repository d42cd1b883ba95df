package activeset

import "testing"

func TestSuperset(t *testing.T) {
	have := Set{Request: []int{Value | Gradient, Value}, DerivativeVarIDs: []int{1, 2}}
	want := Set{Request: []int{Value, Value}, DerivativeVarIDs: []int{1}}

	if !have.Superset(want) {
		t.Fatalf("expected have to be a superset of want")
	}

	missing := Set{Request: []int{Value, Hessian}}
	if have.Superset(missing) {
		t.Fatalf("expected have to NOT be a superset (missing Hessian on fn 1)")
	}
}

func TestDefault(t *testing.T) {
	d := Default(3)
	for i := 0; i < 3; i++ {
		if !d.WantsValue(i) || d.WantsGradient(i) || d.WantsHessian(i) {
			t.Fatalf("expected value-only default active set")
		}
	}
}
