package security

import "testing"

func TestTokenFingerprint(t *testing.T) {
	a := TokenFingerprint("refresh-token-1")
	if a != TokenFingerprint("refresh-token-1") {
		t.Error("TokenFingerprint is not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64 (SHA-256 hex)", len(a))
	}
	if a == TokenFingerprint("refresh-token-2") {
		t.Error("different tokens produced the same fingerprint")
	}
}

func TestFingerprintMatches(t *testing.T) {
	stored := TokenFingerprint("refresh-token")
	tests := []struct {
		name   string
		token  string
		stored string
		want   bool
	}{
		{"match", "refresh-token", stored, true},
		{"wrong token", "other-token", stored, false},
		{"altered fingerprint", "refresh-token", "a" + stored[1:], false},
		{"longer fingerprint", "refresh-token", stored + "a", false},
		{"empty stored", "", "", false},
		{"empty token", "", stored, false},
	}
	for _, tc := range tests {
		if got := FingerprintMatches(tc.token, tc.stored); got != tc.want {
			t.Errorf("%s: FingerprintMatches = %v, want %v", tc.name, got, tc.want)
		}
	}
}
