// SPDX-License-Identifier: MPL-2.0

// paccat prints, lists, extracts and installs files from pacman
// packages without installing the packages themselves.
package main

func main() {
	Execute()
}
