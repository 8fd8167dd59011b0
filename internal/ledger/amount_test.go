package ledger

import "testing"

func TestAmountString(t *testing.T) {
	tests := []struct {
		name  string
		minor int64
		want  string
	}{
		{"zero", 0, "0"},
		{"one whole", 100_000_000, "1"},
		{"fraction", 150_000_000, "1.5"},
		{"smallest unit", 1, "0.00000001"},
		{"negative", -100_000_000, "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewAmount(tt.minor).String()
			if got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{"whole", "1", 100_000_000, false},
		{"fraction", "1.5", 150_000_000, false},
		{"negative", "-0.00000001", -1, false},
		{"too much precision", "1.123456789", 0, true},
		{"empty", "", 0, true},
		{"garbage", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.Minor() != tt.want {
				t.Errorf("Minor() = %d, want %d", got.Minor(), tt.want)
			}
		})
	}
}

func TestParseAmountRoundtrip(t *testing.T) {
	for _, s := range []string{"0", "1", "1.5", "0.00000001", "-3.25", "12345.6789"} {
		a, err := ParseAmount(s)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", s, err)
		}
		if a.String() != s {
			t.Errorf("roundtrip(%q) = %q", s, a.String())
		}
	}
}

func TestAmountArithmetic(t *testing.T) {
	a := NewAmount(300)
	b := NewAmount(100)

	if got := a.Add(b).Minor(); got != 400 {
		t.Errorf("Add = %d, want 400", got)
	}
	if got := a.Sub(b).Minor(); got != 200 {
		t.Errorf("Sub = %d, want 200", got)
	}
	if got := a.Neg().Minor(); got != -300 {
		t.Errorf("Neg = %d, want -300", got)
	}
	if a.Cmp(b) != 1 {
		t.Errorf("Cmp(a,b) != 1")
	}
	if b.Cmp(a) != -1 {
		t.Errorf("Cmp(b,a) != -1")
	}
	if !Zero.IsZero() {
		t.Errorf("Zero.IsZero() = false")
	}
}

func TestAmountJSON(t *testing.T) {
	a := NewAmount(150_000_000)
	b, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(b) != `"1.5"` {
		t.Errorf("MarshalJSON = %s, want \"1.5\"", b)
	}

	var out Amount
	if err := out.UnmarshalJSON(b); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if out.Minor() != a.Minor() {
		t.Errorf("roundtrip mismatch: %d != %d", out.Minor(), a.Minor())
	}
}

func TestAmountScan(t *testing.T) {
	var a Amount
	if err := a.Scan(int64(150_000_000)); err != nil {
		t.Fatalf("Scan(int64): %v", err)
	}
	if a.Minor() != 150_000_000 {
		t.Errorf("Scan(int64) = %d", a.Minor())
	}

	var b Amount
	if err := b.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if !b.IsZero() {
		t.Errorf("Scan(nil) should be zero")
	}

	v, err := a.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v.(int64) != 150_000_000 {
		t.Errorf("Value = %v", v)
	}
}
