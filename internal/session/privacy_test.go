package session

import "testing"

func TestMaskID(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"uuid", "3f1c2a9e-5b7d-4e21-9a0f-8c6b1d2e3f40"},
		{"short", "a"},
		{"unicode", "pilote-é"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaskID(tt.id)
			if len(got) != 12 {
				t.Errorf("MaskID(%q) = %q, want 12 hex chars", tt.id, got)
			}
			if got == tt.id {
				t.Errorf("MaskID(%q) returned the id unchanged", tt.id)
			}
			if again := MaskID(tt.id); again != got {
				t.Errorf("MaskID not stable: %q then %q", got, again)
			}
		})
	}

	if MaskID("") != "-" {
		t.Errorf("MaskID(\"\") = %q, want -", MaskID(""))
	}
	if MaskID("alice") == MaskID("bob") {
		t.Error("distinct ids should mask differently")
	}
}

func TestMaskIDs(t *testing.T) {
	got := MaskIDs([]string{"alice", ""})
	if len(got) != 2 || got[0] != MaskID("alice") || got[1] != "-" {
		t.Errorf("MaskIDs = %v", got)
	}
	if len(MaskIDs(nil)) != 0 {
		t.Error("MaskIDs(nil) should be empty")
	}
}
