// Copyright © 2020 Jonathan Whitaker <github@whitaker.io>.
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package ttg implements a distributed, data-flow task-graph runtime.
//
// Computations are expressed as a directed graph whose nodes are template
// tasks (TTs) and whose edges carry keyed values. A TT is instantiated once
// per distinct key it receives on its input terminals; each instance fires
// when all of its required inputs for that key are present, producing zero
// or more keyed outputs that flow along outgoing edges and trigger successor
// instances. The runtime distributes instances across ranks using a
// user-supplied key-to-rank map, moves values between ranks over the
// transport package, and supports device offload for selected tasks via the
// device package.
package ttg
