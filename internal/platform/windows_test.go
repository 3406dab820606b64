// SPDX-License-Identifier: MPL-2.0

package platform

import "testing"

func TestIsWindowsReservedName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"CON", true},
		{"con", true},
		{"nul.git", true},
		{"Lpt9.tar.gz", true},
		{"COM10", false},
		{"console", false},
		{"foo", false},
		{"john-doe", false},
	}
	for _, tt := range tests {
		if got := IsWindowsReservedName(tt.name); got != tt.want {
			t.Errorf("IsWindowsReservedName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
