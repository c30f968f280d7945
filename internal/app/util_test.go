package app

import "testing"

func TestShortID_Util(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0x1234567890abcdef1234567890abcdef12345678", "0x1234…345678"},
		{"0x123456789012", "0x123456789012"}, // <= 14 chars
		{"shortstring", "shortstring"},
		{"exactly14chars", "exactly14chars"},
		{"fifteencharstr!", "fiftee…arstr!"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := shortID(tt.input)
			if result != tt.expected {
				t.Errorf("shortID(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNz(t *testing.T) {
	tests := []struct {
		s        string
		fallback string
		expected string
	}{
		{"hello", "default", "hello"},
		{"", "default", "default"},
		{"   ", "default", "default"},
		{"\t\n", "default", "default"},
		{"  content  ", "default", "  content  "},
	}

	for _, tt := range tests {
		t.Run(tt.s, func(t *testing.T) {
			result := nz(tt.s, tt.fallback)
			if result != tt.expected {
				t.Errorf("nz(%q, %q) = %q, want %q", tt.s, tt.fallback, result, tt.expected)
			}
		})
	}
}

func TestIsWallet(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0x1234567890abcdef1234567890abcdef12345678", true},
		{"0xABCDEF7890abcdef1234567890abcdef12345678", true},
		{"1234567890abcdef1234567890abcdef12345678", false},
		{"0x1234", false},
		{"0xzz34567890abcdef1234567890abcdef12345678", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isWallet(tt.in); got != tt.want {
			t.Errorf("isWallet(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPolymarketURLs(t *testing.T) {
	if got := profileURL("0xabc"); got != "https://polymarket.com/profile/0xabc" {
		t.Errorf("profileURL = %q", got)
	}
	if got := marketURL("will-it-rain"); got != "https://polymarket.com/event/will-it-rain" {
		t.Errorf("marketURL = %q", got)
	}
	if profileURL("") != "" || marketURL("") != "" {
		t.Error("empty input should give empty url")
	}
}
