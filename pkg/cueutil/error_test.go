// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"
)

func TestFormatErrorNil(t *testing.T) {
	t.Parallel()

	if err := FormatError(nil, "config.cue"); err != nil {
		t.Errorf("FormatError(nil) = %v", err)
	}
}

func TestFormatErrorPlain(t *testing.T) {
	t.Parallel()

	err := FormatError(errors.New("some error"), "config.cue")
	if err == nil || !strings.Contains(err.Error(), "config.cue") || !strings.Contains(err.Error(), "some error") {
		t.Errorf("FormatError() = %v", err)
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path []string
		want string
	}{
		{nil, ""},
		{[]string{"scenario"}, "scenario"},
		{[]string{"scenario", "versions", "1"}, "scenario.versions[1]"},
		{[]string{"0", "name"}, "0.name"},
		{[]string{"consumer", "prefix_args", "10", "x"}, "consumer.prefix_args[10].x"},
	}
	for _, tt := range tests {
		if got := formatPath(tt.path); got != tt.want {
			t.Errorf("formatPath(%v) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCheckFileSize(t *testing.T) {
	t.Parallel()

	if err := CheckFileSize(make([]byte, 10), 10, "f"); err != nil {
		t.Errorf("at limit: %v", err)
	}
	if err := CheckFileSize(make([]byte, 11), 10, "f"); err == nil {
		t.Error("over limit should fail")
	}
}
