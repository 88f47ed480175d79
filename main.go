// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Hubdrive - BLDC hub motor wheel controller and HUGS protocol toolkit
//
// Runs the wheel controller core against a simulated motor, and talks HUGS
// to real or simulated wheels over serial and WebSocket links.

package main

import (
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/Thermoquad/hubdrive/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}
