package billing

import "testing"

func TestDefaultCurrency(t *testing.T) {
	t.Setenv("BILLING_CURRENCY", "")
	if got := DefaultCurrency(); got != "EUR" {
		t.Fatalf("expected EUR fallback, got %s", got)
	}
	t.Setenv("BILLING_CURRENCY", "USD")
	if got := DefaultCurrency(); got != "USD" {
		t.Fatalf("expected USD, got %s", got)
	}
}

func TestToCentsRounds(t *testing.T) {
	cases := map[float64]int64{
		50:    5000,
		19.99: 1999,
		0.1:   10,
		-2.5:  -250,
	}
	for in, want := range cases {
		if got := ToCents(in); got != want {
			t.Errorf("ToCents(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestFormatCents(t *testing.T) {
	if got := FormatCents(505, "EUR"); got != "5.05 EUR" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := FormatCents(-1000, "EUR"); got != "-10.00 EUR" {
		t.Fatalf("unexpected negative format %q", got)
	}
}
