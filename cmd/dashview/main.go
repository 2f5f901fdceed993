// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"log"

	"dashview"
)

func main() {
	if err := dashview.Run(); err != nil {
		log.Fatal(err)
	}
}
