package materializer

import "testing"

func TestDerefUnwrapsByteSlice(t *testing.T) {
	if got := deref([]byte("hello")); got != "hello" {
		t.Fatalf("deref([]byte) = %v", got)
	}
}

func TestDerefPassesThroughOtherTypes(t *testing.T) {
	if got := deref(42); got != 42 {
		t.Fatalf("deref(42) = %v", got)
	}
	if got := deref(nil); got != nil {
		t.Fatalf("deref(nil) = %v", got)
	}
}

func TestAsInt64(t *testing.T) {
	cases := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(7), 7, true},
		{int32(7), 7, true},
		{7, 7, true},
		{float64(7), 7, true},
		{"not a number", 0, false},
	}
	for _, c := range cases {
		got, ok := asInt64(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("asInt64(%v) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}
