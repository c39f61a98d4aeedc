package domain

import "testing"

func TestSplitName(t *testing.T) {
	tests := []struct{ in, first, last string }{
		{"Ada Lovelace", "Ada", "Lovelace"},
		{"  Grace  ", "Grace", ""},
		{"Jean Luc Picard", "Jean", "Luc Picard"},
		{"", "", ""},
	}
	for _, tc := range tests {
		first, last := SplitName(tc.in)
		if first != tc.first || last != tc.last {
			t.Errorf("SplitName(%q) = %q, %q; want %q, %q", tc.in, first, last, tc.first, tc.last)
		}
	}
}

func TestUser_Validate(t *testing.T) {
	ok := User{Email: "a@b.com", Username: "ab", PasswordHash: "h"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for name, u := range map[string]User{
		"no email":    {Username: "ab", PasswordHash: "h"},
		"bad email":   {Email: "nope", Username: "ab", PasswordHash: "h"},
		"no username": {Email: "a@b.com", PasswordHash: "h"},
		"no password": {Email: "a@b.com", Username: "ab"},
	} {
		if err := u.Validate(); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

func TestUser_SnapshotAndFullName(t *testing.T) {
	u := User{ID: "u1", Email: "a@b.com", Username: "ab", FirstName: "Ada", LastName: "L", IsActive: true, PasswordHash: "secret"}
	s := u.Snapshot()
	if s.ID != "u1" || s.Email != "a@b.com" || !s.IsActive || s.FirstName != "Ada" {
		t.Errorf("Snapshot = %+v", s)
	}
	if u.FullName() != "Ada L" {
		t.Errorf("FullName = %q", u.FullName())
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  A@B.Com "); got != "a@b.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}
