// Copyright (C) The Depclust Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"github.com/crisprdep/depclust"
)

func main() {
	depclust.Main()
}
