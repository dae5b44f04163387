// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package blktrace

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// EventKind says what a traced request did to the device.
type EventKind int

const (
	// Write is an ordinary data write.
	Write EventKind = iota
	// Discard unmaps a region; reads of it afterwards return zeroes, so
	// it dirties the region just as a write does.
	Discard
)

func (k EventKind) String() string {
	switch k {
	case Write:
		return "write"
	case Discard:
		return "discard"
	default:
		return "unknown"
	}
}

// Event is one observed device mutation. Offset and Length are in
// bytes, relative to the start of the traced region.
type Event struct {
	Kind   EventKind
	Offset uint64
	Length uint64
}

// The kernel emits binary struct blk_io_trace records on trace_pipe
// when the bin trace option is set (linux/blktrace_api.h). The header
// is fixed-size; pduLen bytes of per-action payload follow it.
const (
	traceMagic   = 0x65617400
	traceVersion = 0x07
	headerSize   = 48
	sectorSize   = 512
)

// Category bits occupy the upper half of the action word.
const (
	tcWrite   = 1 << 1
	tcDiscard = 1 << 13
	tcShift   = 16
)

// Trace action codes occupy the lower half. Queue is the only one the
// session enables via act_mask.
const taQueue = 1

type record struct {
	sequence uint32
	time     uint64
	sector   uint64
	bytes    uint32
	action   uint32
	pid      uint32
	device   uint32
	cpu      uint32
	errno    uint16
	pduLen   uint16
}

func (r record) category() uint32 { return r.action >> tcShift }

func (r record) act() uint32 { return r.action & (1<<tcShift - 1) }

// byteOrder inspects a record's magic word and returns the byte order
// the stream was written in. The kernel writes records in native
// order, so this settles once per stream.
func byteOrder(b []byte) (binary.ByteOrder, error) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		magic := order.Uint32(b)
		if magic&^uint32(0xff) != traceMagic {
			continue
		}
		if version := magic & 0xff; version != traceVersion {
			return nil, errors.Errorf("unsupported blk_io_trace version %#x", version)
		}
		return order, nil
	}
	return nil, errors.Errorf("bad blk_io_trace magic %#x", binary.LittleEndian.Uint32(b))
}

// decodeRecord parses one record header. b must hold at least
// headerSize bytes whose magic has already been validated.
func decodeRecord(b []byte, order binary.ByteOrder) record {
	return record{
		sequence: order.Uint32(b[4:]),
		time:     order.Uint64(b[8:]),
		sector:   order.Uint64(b[16:]),
		bytes:    order.Uint32(b[24:]),
		action:   order.Uint32(b[28:]),
		pid:      order.Uint32(b[32:]),
		device:   order.Uint32(b[36:]),
		cpu:      order.Uint32(b[40:]),
		errno:    order.Uint16(b[44:]),
		pduLen:   order.Uint16(b[46:]),
	}
}
