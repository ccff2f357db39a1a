package core

import "testing"

func TestDeriveDisplayName(t *testing.T) {
	cases := []struct {
		name       string
		display    string
		username   string
		externalID string
		want       string
	}{
		{"provider name wins", "Jane Doe", "jane.doe", "abc123", "Jane Doe"},
		{"username prefix before first dot", "", "jane.doe", "abc123", "jane"},
		{"username without dot used whole", "", "janedoe", "abc123", "janedoe"},
		{"leading dot keeps full username", "", ".janedoe", "abc123", ".janedoe"},
		{"synthetic handle from external id", "", "", "abcdef1234567890", "Channel_abcdef12"},
		{"short external id untruncated", "", "", "abc", "Channel_abc"},
		{"whitespace only name falls through", "   ", "jane.doe", "abc", "jane"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveDisplayName(tc.display, tc.username, tc.externalID)
			if got != tc.want {
				t.Fatalf("DeriveDisplayName(%q, %q, %q) = %q, want %q",
					tc.display, tc.username, tc.externalID, got, tc.want)
			}
		})
	}
}
