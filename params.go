// Copyright (c) 2013-2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import "github.com/coinroster/cgsd/netparams"

// defaultMetricsPort is the port used for --metricslisten when the address
// carries none.
const defaultMetricsPort = "9090"

var activeNet = &netparams.MainNetParams
