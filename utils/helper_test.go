package utils_test

import (
	"testing"

	"bitbucket.org/radianceaesthetics/ops_backend/utils"
)

func TestNormalizePhoneNumber(t *testing.T) {
	valid := []struct {
		in   string
		want string
	}{
		{"(317) 555-0140", "+13175550140"},
		{"317-555-0140", "+13175550140"},
		{"+1 317 555 0140", "+13175550140"},
		{" 3175550140 ", "+13175550140"},
	}
	for _, tc := range valid {
		got, ok := utils.NormalizePhoneNumber(tc.in)
		if !ok || got != tc.want {
			t.Errorf("NormalizePhoneNumber(%q) = %q, %v; want %q, true", tc.in, got, ok, tc.want)
		}
	}

	invalid := []string{"", "   ", "5551", "not-a-phone", "+1 555"}
	for _, in := range invalid {
		if got, ok := utils.NormalizePhoneNumber(in); ok {
			t.Errorf("NormalizePhoneNumber(%q) = %q, true; want invalid", in, got)
		}
	}
}
