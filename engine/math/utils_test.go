package math

import "testing"

func TestClamp(t *testing.T) {
	tests := []struct {
		name            string
		v, low, high, w uint32
	}{
		{"below", 0, 2, 8, 2},
		{"inside", 5, 2, 8, 5},
		{"above", 10, 2, 8, 8},
		{"degenerate", 3, 4, 4, 4},
	}
	for _, tt := range tests {
		if got := Clamp(tt.v, tt.low, tt.high); got != tt.w {
			t.Errorf("%s: Clamp(%d, %d, %d) = %d, want %d", tt.name, tt.v, tt.low, tt.high, got, tt.w)
		}
	}
	if got := Clamp(-1.5, -1.0, 1.0); got != -1.0 {
		t.Errorf("float clamp = %v, want -1", got)
	}
}
