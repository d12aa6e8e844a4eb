// Copyright 2026 The Telemetryd Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"io"
	"testing"
)

func TestMarshalIsDeterministic(t *testing.T) {
	// Map key order must not affect the encoded bytes.
	a := map[string]any{"machine_id": "m-001", "metric": "temperature", "value": 72.5}
	b := map[string]any{"value": 72.5, "metric": "temperature", "machine_id": "m-001"}

	encodedA, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal(a): %v", err)
	}
	encodedB, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal(b): %v", err)
	}
	if !bytes.Equal(encodedA, encodedB) {
		t.Errorf("same logical map encoded differently:\n  a: %x\n  b: %x", encodedA, encodedB)
	}
}

func TestRoundTripStruct(t *testing.T) {
	type reading struct {
		MachineID string  `cbor:"machine_id"`
		Metric    string  `cbor:"metric"`
		TsMs      int64   `cbor:"ts_ms"`
		Value     float64 `cbor:"value"`
	}

	original := reading{MachineID: "m-002", Metric: "pressure", TsMs: 1770000000000, Value: 101.3}

	encoded, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded reading
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestDefaultMapType(t *testing.T) {
	encoded, err := Marshal(map[string]any{"kind": "heartbeat"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["kind"] != "heartbeat" {
		t.Errorf("kind = %v, want heartbeat", asMap["kind"])
	}
}

func TestStreamSequence(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf)

	frames := []map[string]any{
		{"kind": "batch", "count": int64(3)},
		{"kind": "heartbeat"},
		{"kind": "batch", "count": int64(1)},
	}
	for i, frame := range frames {
		if err := encoder.Encode(frame); err != nil {
			t.Fatalf("Encode frame %d: %v", i, err)
		}
	}

	decoder := NewDecoder(&buf)
	for i := range frames {
		var decoded map[string]any
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode frame %d: %v", i, err)
		}
		if decoded["kind"] != frames[i]["kind"] {
			t.Errorf("frame %d kind = %v, want %v", i, decoded["kind"], frames[i]["kind"])
		}
	}

	var extra map[string]any
	if err := decoder.Decode(&extra); err != io.EOF {
		t.Errorf("expected EOF after last frame, got %v", err)
	}
}
