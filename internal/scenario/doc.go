// SPDX-License-Identifier: MPL-2.0

// Package scenario runs the tag-moves scenario end to end: it stands up a
// throwaway git server, publishes one tagged version per round and installs
// each tag with the consumer against one pinned cache, then tears everything
// down. Every step is timed and recorded in a Report.
package scenario
