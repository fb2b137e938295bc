package doctree

import (
	"encoding/json"
	"testing"
)

func sample() Node {
	return Mapping(
		Entry{Key: "root", Value: Mapping(
			Entry{Key: "message", Value: Scalar(String("hello"))},
			Entry{Key: "count", Value: Scalar(Int(3))},
		)},
		Entry{Key: "items", Value: Sequence(
			Scalar(String("a")),
			Scalar(Bool(true)),
			Scalar(Null()),
		)},
	)
}

func TestRender(t *testing.T) {
	got, err := json.Marshal(Render(sample()))
	if err != nil {
		t.Fatal(err)
	}

	want := `{"items":["a",true,null],"root":{"count":3,"message":"hello"}}`
	if string(got) != want {
		t.Errorf("Render() = %s, want %s", got, want)
	}
}

func TestRender_EmptySequence(t *testing.T) {
	got, err := json.Marshal(Render(Mapping(Entry{Key: "items", Value: Sequence()})))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"items":[]}` {
		t.Errorf("empty sequence rendered as %s", got)
	}
}

func TestMapping_SortsKeys(t *testing.T) {
	n := Mapping(
		Entry{Key: "b", Value: Scalar(Int(2))},
		Entry{Key: "a", Value: Scalar(Int(1))},
	)
	if n.Mapping[0].Key != "a" || n.Mapping[1].Key != "b" {
		t.Errorf("keys not sorted: %+v", n.Mapping)
	}
}

func TestLookup(t *testing.T) {
	n := sample()

	got, ok := n.Lookup("root", "count")
	if !ok {
		t.Fatal("root.count not found")
	}
	if got.Scalar.Int != 3 {
		t.Errorf("root.count = %d, want 3", got.Scalar.Int)
	}

	if _, ok := n.Lookup("root", "missing"); ok {
		t.Error("missing key should not be found")
	}
	if _, ok := n.Lookup("items", "x"); ok {
		t.Error("lookup into a sequence should fail")
	}
}

func TestEqual(t *testing.T) {
	if !Equal(sample(), sample()) {
		t.Error("identical trees should be equal")
	}

	other := Mapping(Entry{Key: "root", Value: Scalar(Int(1))})
	if Equal(sample(), other) {
		t.Error("different trees should not be equal")
	}

	if Equal(Scalar(Int(1)), Scalar(Float(1))) {
		t.Error("int and float scalars should differ")
	}
}

func TestCountLeaves(t *testing.T) {
	if got := CountLeaves(sample()); got != 5 {
		t.Errorf("CountLeaves() = %d, want 5", got)
	}
}

func TestFromNative(t *testing.T) {
	tests := []struct {
		in      any
		want    Value
		wantErr bool
	}{
		{nil, Null(), false},
		{true, Bool(true), false},
		{float64(4), Int(4), false},
		{1.5, Float(1.5), false},
		{"x", String("x"), false},
		{[]any{1}, Value{}, true},
		{map[string]any{}, Value{}, true},
	}

	for _, tt := range tests {
		got, err := FromNative(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("FromNative(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("FromNative(%v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
