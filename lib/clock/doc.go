// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Production code accepts a Clock instead of calling time.Now,
// time.After, time.NewTicker, or time.Sleep directly. Real() provides
// standard library behavior; Fake() provides a deterministic clock for
// tests that advances only when Advance is called.
//
// The simulator's tick loop is the main consumer: under a FakeClock a
// test can register the loop's wait with WaitForTimers and then fire
// exactly one tick with Advance, making tick-by-tick assertions
// deterministic instead of sleep-based.
package clock
