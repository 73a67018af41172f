package schema

import "testing"

// TestSanitizeTitle exercises the literal compatibility table: these exact
// outputs are baked into existing warehouse tables and must never drift.
func TestSanitizeTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"This is Sparta!", "This_is_Sparta0x21"},
		{"(I Can't Get No) Satisfaction", "_I_Can0x27t_Get_No__Satisfaction"},
		{"Jack-in-the-Green", "Jack_in_the_Green"},
		{"abc123ABC_", "abc123ABC_"},
		{"*Sales Confirm - Revenue - DDA", "0x2aSales_Confirm___Revenue___DDA"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeTitle(tc.in); got != tc.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestSanitizeColumn verifies the digit-prefix rule: the column variant gets
// an "X" prefix when the sanitized name would start with a digit, the title
// variant never does.
func TestSanitizeColumn(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"*Sales Confirm - Revenue - DDA", "X0x2aSales_Confirm___Revenue___DDA"},
		{"7 Day Conversions", "X7_Day_Conversions"},
		{"Clicks", "Clicks"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeColumn(tc.in); got != tc.want {
			t.Errorf("SanitizeColumn(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
