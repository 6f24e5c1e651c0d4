package scale

import "testing"

func TestFormatWeight(t *testing.T) {
	tests := []struct {
		name     string
		w        float64
		width    int
		decimals int
		want     string
	}{
		{"padded to width-1", 100, 10, 1, "    100.0"},
		{"rounding noise hidden by decimals", 10.400000000000002, 10, 1, "     10.4"},
		{"negative", -2.4, 10, 2, "    -2.40"},
		{"exactly width-1 is not padded", 12345.678, 10, 3, "12345.678"},
		{"wider than field is not truncated", 1234567890, 10, 1, "1234567890.0"},
		{"no decimals", 7.6, 4, 0, "  8"},
		{"width zero disables padding", 3.14159, 0, 2, "3.14"},
		{"negative zero renders as zero", -0.0000001, 6, 1, "  0.0"},
		{"negative decimals clamp to zero", 3.6, 0, -1, "4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatWeight(tt.w, tt.width, tt.decimals); got != tt.want {
				t.Errorf("FormatWeight() = %q, want %q", got, tt.want)
			}
		})
	}
}
