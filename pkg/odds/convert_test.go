package odds

import (
	"math"
	"testing"
)

func TestAmericanDecimalRoundTrip(t *testing.T) {
	for _, american := range []int{+150, -120, +100, -300} {
		dec, err := AmericanToDecimal(american)
		if err != nil {
			t.Fatalf("AmericanToDecimal(%d) failed: %v", american, err)
		}

		back, err := DecimalToAmerican(dec)
		if err != nil {
			t.Fatalf("DecimalToAmerican(%f) failed: %v", dec, err)
		}

		if back != american {
			t.Errorf("round trip %d -> %f -> %d", american, dec, back)
		}
	}
}

func TestAmericanToDecimal(t *testing.T) {
	tests := []struct {
		american int
		want     float64
	}{
		{+150, 2.50},
		{-150, 1.6667},
		{+100, 2.00},
		{-100, 2.00},
		{-300, 1.3333},
	}

	for _, tt := range tests {
		got, err := AmericanToDecimal(tt.american)
		if err != nil {
			t.Fatalf("AmericanToDecimal(%d) failed: %v", tt.american, err)
		}
		if math.Abs(got-tt.want) > 0.001 {
			t.Errorf("AmericanToDecimal(%d) = %f, want %f", tt.american, got, tt.want)
		}
	}

	if _, err := AmericanToDecimal(0); err == nil {
		t.Error("AmericanToDecimal(0) should fail")
	}
}

func TestPriceToDecimal(t *testing.T) {
	dec, err := PriceToDecimal(0.60)
	if err != nil {
		t.Fatalf("PriceToDecimal(0.60) failed: %v", err)
	}
	if math.Abs(dec-1.667) > 0.001 {
		t.Errorf("PriceToDecimal(0.60) = %f, want 1.667", dec)
	}

	american, err := DecimalToAmerican(dec)
	if err != nil {
		t.Fatalf("DecimalToAmerican(%f) failed: %v", dec, err)
	}
	if american < -151 || american > -149 {
		t.Errorf("price 0.60 -> American %d, want -150 (±1)", american)
	}

	dec, err = PriceToDecimal(0.50)
	if err != nil {
		t.Fatalf("PriceToDecimal(0.50) failed: %v", err)
	}
	if math.Abs(dec-2.00) > 0.001 {
		t.Errorf("PriceToDecimal(0.50) = %f, want 2.00", dec)
	}

	american, err = DecimalToAmerican(dec)
	if err != nil {
		t.Fatalf("DecimalToAmerican(%f) failed: %v", dec, err)
	}
	if american != 100 {
		t.Errorf("price 0.50 -> American %d, want +100", american)
	}
}

func TestPriceToDecimalInvalid(t *testing.T) {
	for _, price := range []float64{0, 1, -0.5, 1.5} {
		if _, err := PriceToDecimal(price); err == nil {
			t.Errorf("PriceToDecimal(%f) should fail", price)
		}
	}
}

func TestImpliedProbability(t *testing.T) {
	prob, err := DecimalToImpliedProbability(2.00)
	if err != nil {
		t.Fatalf("DecimalToImpliedProbability failed: %v", err)
	}
	if math.Abs(prob-0.50) > 0.0001 {
		t.Errorf("implied probability of 2.00 = %f, want 0.50", prob)
	}

	prob, err = AmericanToImpliedProbability(-150)
	if err != nil {
		t.Fatalf("AmericanToImpliedProbability failed: %v", err)
	}
	if math.Abs(prob-0.60) > 0.001 {
		t.Errorf("implied probability of -150 = %f, want 0.60", prob)
	}
}

func TestParseAmerican(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"+150", 150, false},
		{"-120", -120, false},
		{"150", 150, false},
		{" +100 ", 100, false},
		{"0", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseAmerican(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAmerican(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmerican(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAmerican(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
