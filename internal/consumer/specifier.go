// SPDX-License-Identifier: MPL-2.0

package consumer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSpecifier is returned by ParseSpecifier.
var ErrInvalidSpecifier = errors.New("invalid git dependency specifier")

// Specifier returns <baseURL>/<owner>/<name>.git#<tag>.
func Specifier(baseURL, owner, name, tag string) string {
	return strings.TrimRight(baseURL, "/") + "/" + owner + "/" + name + ".git#" + tag
}

// ParseSpecifier splits a specifier into the repository URL and the ref
// after the last '#'.
func ParseSpecifier(spec string) (url, ref string, err error) {
	i := strings.LastIndexByte(spec, '#')
	if i <= 0 || i == len(spec)-1 {
		return "", "", fmt.Errorf("%w: %q needs <url>#<ref>", ErrInvalidSpecifier, spec)
	}
	return spec[:i], spec[i+1:], nil
}
