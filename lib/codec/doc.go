// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used on telemetryd's
// streaming surfaces: the /tail live stream and the /export bulk dump.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical reading always produces identical bytes. Consumers
// import this package rather than fxamacker/cbor directly, keeping the
// encoder configuration in one place.
package codec
