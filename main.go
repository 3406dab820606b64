// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/tagprobe/cmd/tagprobe"

func main() {
	cmd.Execute()
}
