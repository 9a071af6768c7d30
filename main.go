// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import "github.com/buildd-org/buildd/cmd"

func main() {
	cmd.Execute()
}
