package sqlclient

import "testing"

func TestPlaceholderName(t *testing.T) {
	cases := []struct {
		in   int
		want string
	}{
		{0, "$1"},
		{8, "$9"},
		{9, "$10"},
		{98, "$99"},
		{99, "$100"},
	}
	for _, c := range cases {
		if got := placeholderName(c.in); got != c.want {
			t.Fatalf("placeholderName(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}
