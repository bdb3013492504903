package imageproc

import "testing"

func TestNumericIdentity(t *testing.T) {
	src := noise(4, 4, 7)
	got, err := NewNumeric().Apply(src, Selection{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != src {
		t.Error("identity selection should pass the raster through untouched")
	}
}

func TestNumericOrderAndDeterminism(t *testing.T) {
	src := noise(10, 7, 8)
	for enh := EnhanceNone; enh <= EnhanceSoftenSharpen; enh++ {
		for col := ColorNone; col <= ColorSepia; col++ {
			sel := Selection{Enhance: enh, Color: col}
			a, err := NewNumeric().Apply(src, sel)
			if err != nil {
				t.Fatalf("%v/%v: %v", enh, col, err)
			}
			b, _ := NewNumeric().Apply(src, sel)
			if !a.Equal(b) {
				t.Errorf("%v/%v: reprocessing is not byte-identical", enh, col)
			}
		}
	}

	got, _ := NewNumeric().Apply(src, Selection{Enhance: EnhanceSoften, Color: ColorInvert})
	if !got.Equal(Invert(Soften(src))) {
		t.Error("enhance must run before color")
	}
}

func TestParseModes(t *testing.T) {
	tests := []struct {
		in   string
		want Color
		ok   bool
	}{
		{"none", ColorNone, true},
		{"Invert", ColorInvert, true},
		{"green", ColorDuotone, true},
		{"brown", ColorSepia, true},
		{"sepia", ColorSepia, true},
		{"purple", ColorNone, false},
	}
	for _, tc := range tests {
		got, ok := ParseColor(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseColor(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
	if e, ok := ParseEnhance("soften_sharpen"); !ok || e != EnhanceSoftenSharpen {
		t.Errorf("ParseEnhance(soften_sharpen) = %v, %v", e, ok)
	}
	if Enhance(9).Valid() || Color(-1).Valid() {
		t.Error("out-of-range values must be invalid")
	}
}
