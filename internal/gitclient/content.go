// SPDX-License-Identifier: MPL-2.0

package gitclient

import (
	jsoniter "github.com/json-iterator/go"
)

const (
	// ModuleFileName is the entry point written in each round.
	ModuleFileName = "index.js"
	// ManifestFileName is the package manifest written in each round.
	ManifestFileName = "package.json"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PackageManifest is the manifest of the package under test.
type PackageManifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	License string `json:"license"`
}

// TagName returns the tag published for version.
func TagName(version string) string { return "v" + version }

// ModuleFile returns the index.js content that exports version.
func ModuleFile(version string) string {
	return "module.exports = '" + version + "';\n"
}

// Manifest returns the compact package.json content for name at version.
func Manifest(name, version string) ([]byte, error) {
	return json.Marshal(PackageManifest{Name: name, Version: version, License: "MIT"})
}
