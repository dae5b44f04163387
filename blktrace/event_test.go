// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package blktrace

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// encodeRecord is the inverse of decodeRecord, for building test
// streams. rec.pduLen must equal len(pdu).
func encodeRecord(order binary.ByteOrder, rec record, pdu []byte) []byte {
	b := make([]byte, headerSize+len(pdu))
	order.PutUint32(b[0:], traceMagic|traceVersion)
	order.PutUint32(b[4:], rec.sequence)
	order.PutUint64(b[8:], rec.time)
	order.PutUint64(b[16:], rec.sector)
	order.PutUint32(b[24:], rec.bytes)
	order.PutUint32(b[28:], rec.action)
	order.PutUint32(b[32:], rec.pid)
	order.PutUint32(b[36:], rec.device)
	order.PutUint32(b[40:], rec.cpu)
	order.PutUint16(b[44:], rec.errno)
	order.PutUint16(b[46:], rec.pduLen)
	copy(b[headerSize:], pdu)
	return b
}

func TestByteOrder(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		b := make([]byte, 4)
		order.PutUint32(b, traceMagic|traceVersion)
		got, err := byteOrder(b)
		if err != nil {
			t.Errorf("byteOrder(%v magic) returned error: %v", order, err)
		} else if got != order {
			t.Errorf("byteOrder(%v magic) = %v", order, got)
		}
	}

	bad := []byte{0xde, 0xad, 0xbe, 0xef}
	if _, err := byteOrder(bad); err == nil {
		t.Errorf("byteOrder accepted garbage magic")
	}

	wrongVersion := make([]byte, 4)
	binary.LittleEndian.PutUint32(wrongVersion, traceMagic|0x06)
	if _, err := byteOrder(wrongVersion); err == nil {
		t.Errorf("byteOrder accepted version 0x06")
	}
}

func TestDecodeRecord(t *testing.T) {
	want := record{
		sequence: 7,
		time:     123456789,
		sector:   2048,
		bytes:    4096,
		action:   tcWrite<<tcShift | taQueue,
		pid:      42,
		device:   devID(8, 3),
		cpu:      2,
		errno:    0,
		pduLen:   16,
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		b := encodeRecord(order, want, make([]byte, want.pduLen))
		got := decodeRecord(b, order)
		if diff := cmp.Diff(want, got, cmp.AllowUnexported(record{})); diff != "" {
			t.Errorf("decodeRecord (%v) mismatch (-want +got):\n%s", order, diff)
		}
	}
}

func TestRecordCategoryAct(t *testing.T) {
	tests := []struct {
		name     string
		action   uint32
		category uint32
		act      uint32
	}{
		{"queued write", tcWrite<<tcShift | taQueue, tcWrite, taQueue},
		{"queued discard", (tcWrite|tcDiscard)<<tcShift | taQueue, tcWrite | tcDiscard, taQueue},
		{"completed write", tcWrite<<tcShift | 8, tcWrite, 8},
		{"queued read", 1<<tcShift | taQueue, 1, taQueue},
	}
	for _, test := range tests {
		r := record{action: test.action}
		if got := r.category(); got != test.category {
			t.Errorf("%s: category() = %#x, want %#x", test.name, got, test.category)
		}
		if got := r.act(); got != test.act {
			t.Errorf("%s: act() = %#x, want %#x", test.name, got, test.act)
		}
	}
}

func TestEventKindString(t *testing.T) {
	if got := Write.String(); got != "write" {
		t.Errorf("Write.String() = %q", got)
	}
	if got := Discard.String(); got != "discard" {
		t.Errorf("Discard.String() = %q", got)
	}
	if got := EventKind(99).String(); got != "unknown" {
		t.Errorf("EventKind(99).String() = %q", got)
	}
}
