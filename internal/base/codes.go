// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package base

// Script result codes returned by the Lua dispatcher scripts. These must be
// preserved bit-exactly: the worker's control flow branches on the literal
// integer value, not just its sign, and the values are part of the wire
// contract between Go and the embedded Lua (see internal/rdb/lua).
const (
	CodeOK                  int64 = 0
	CodeJobNotFound         int64 = -1
	CodeWrongState          int64 = -2
	CodeLockMismatch        int64 = -3
	CodeJobAlreadyExists    int64 = -4
	CodeJobHasDependents    int64 = -5 // remove refused: unresolved children
	CodeParentMissing       int64 = -6
	CodeJobBelongsToActive  int64 = -7 // remove refused: job is active
	CodeJobIsRepeatable     int64 = -8 // remove refused: owned by a scheduler
	CodeQueuePaused         int64 = -9
	CodeRateLimited         int64 = -10
	CodeNoJobReady          int64 = -11
	CodeObliterateHasActive int64 = -12
)
