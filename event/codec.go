// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package event

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrTruncated is returned when a buffer ends before a complete record,
// string, or value could be decoded.
var ErrTruncated = errors.New("event: truncated record")

// Marshal encodes e into the wire format described in spec §3.
func Marshal(e Event) []byte {
	var buf bytes.Buffer
	putString(&buf, e.UserID)
	buf.WriteByte(byte(e.Priority))
	buf.WriteByte(byte(e.SyncType))
	putUvarint(&buf, e.Version)
	putVarint(&buf, e.Timestamp.UnixNano())

	putBool(&buf, e.HasStatus)
	if e.HasStatus {
		putString(&buf, e.StatusUpdate)
	}

	for _, fields := range e.Partitions {
		if fields == nil {
			putBool(&buf, false)
			continue
		}
		putBool(&buf, true)
		putUvarint(&buf, uint64(len(fields)))
		for k, v := range fields {
			putString(&buf, k)
			putValue(&buf, v)
		}
	}

	putStringSlice(&buf, e.TagsToAdd)
	putStringSlice(&buf, e.TagsToRemove)

	putBool(&buf, e.Metadata != nil)
	if e.Metadata != nil {
		putBool(&buf, e.Metadata.RegistrationDate != nil)
		if e.Metadata.RegistrationDate != nil {
			putVarint(&buf, e.Metadata.RegistrationDate.UnixNano())
		}
		putBool(&buf, e.Metadata.LastActiveAt != nil)
		if e.Metadata.LastActiveAt != nil {
			putVarint(&buf, e.Metadata.LastActiveAt.UnixNano())
		}
	}

	return buf.Bytes()
}

// Unmarshal decodes a full [Event] from data.
func Unmarshal(data []byte) (Event, error) {
	d := &decoder{data: data}

	var e Event
	var err error
	if e.UserID, err = d.string(); err != nil {
		return Event{}, err
	}
	pb, err := d.byte_()
	if err != nil {
		return Event{}, err
	}
	e.Priority = Priority(pb)

	sb, err := d.byte_()
	if err != nil {
		return Event{}, err
	}
	e.SyncType = SyncType(sb)

	if e.Version, err = d.uvarint(); err != nil {
		return Event{}, err
	}
	ts, err := d.varint()
	if err != nil {
		return Event{}, err
	}
	e.Timestamp = time.Unix(0, ts).UTC()

	if e.HasStatus, err = d.bool_(); err != nil {
		return Event{}, err
	}
	if e.HasStatus {
		if e.StatusUpdate, err = d.string(); err != nil {
			return Event{}, err
		}
	}

	for p := 0; p < numPartitions; p++ {
		present, err := d.bool_()
		if err != nil {
			return Event{}, err
		}
		if !present {
			continue
		}
		count, err := d.uvarint()
		if err != nil {
			return Event{}, err
		}
		fields := make(map[string]Value, count)
		for i := uint64(0); i < count; i++ {
			k, err := d.string()
			if err != nil {
				return Event{}, err
			}
			v, err := d.value()
			if err != nil {
				return Event{}, err
			}
			fields[k] = v
		}
		e.Partitions[p] = fields
	}

	if e.TagsToAdd, err = d.stringSlice(); err != nil {
		return Event{}, err
	}
	if e.TagsToRemove, err = d.stringSlice(); err != nil {
		return Event{}, err
	}

	hasMeta, err := d.bool_()
	if err != nil {
		return Event{}, err
	}
	if hasMeta {
		md := &Metadata{}
		hasReg, err := d.bool_()
		if err != nil {
			return Event{}, err
		}
		if hasReg {
			ns, err := d.varint()
			if err != nil {
				return Event{}, err
			}
			t := time.Unix(0, ns).UTC()
			md.RegistrationDate = &t
		}
		hasActive, err := d.bool_()
		if err != nil {
			return Event{}, err
		}
		if hasActive {
			ns, err := d.varint()
			if err != nil {
				return Event{}, err
			}
			t := time.Unix(0, ns).UTC()
			md.LastActiveAt = &t
		}
		e.Metadata = md
	}

	return e, nil
}

// PeekPriority decodes only the leading user_id and priority fields of data,
// without allocating the partition maps or reading the rest of the record.
// This backs the Router's "decode just enough to read priority" contract
// (spec §4.1) with a real partial parse instead of a full unmarshal.
func PeekPriority(data []byte) (userID string, priority Priority, err error) {
	d := &decoder{data: data}
	userID, err = d.string()
	if err != nil {
		return "", 0, err
	}
	pb, err := d.byte_()
	if err != nil {
		return "", 0, err
	}
	return userID, Priority(pb), nil
}

func putValue(buf *bytes.Buffer, v Value) {
	buf.WriteByte(byte(v.kind))
	switch v.kind {
	case KindNull:
	case KindString:
		putString(buf, v.str)
	case KindInt64:
		putVarint(buf, v.i64)
	case KindFloat64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.f64))
		buf.Write(b[:])
	case KindBool:
		putBool(buf, v.b)
	case KindBytes:
		putUvarint(buf, uint64(len(v.buf)))
		buf.Write(v.buf)
	case KindMap:
		putUvarint(buf, uint64(len(v.m)))
		for k, vv := range v.m {
			putString(buf, k)
			putValue(buf, vv)
		}
	}
}

func putString(buf *bytes.Buffer, s string) {
	putUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func putStringSlice(buf *bytes.Buffer, ss []string) {
	putUvarint(buf, uint64(len(ss)))
	for _, s := range ss {
		putString(buf, s)
	}
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	buf.Write(b[:n])
}

func putVarint(buf *bytes.Buffer, v int64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutVarint(b[:], v)
	buf.Write(b[:n])
}

func putBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
		return
	}
	buf.WriteByte(0)
}

// decoder reads the primitives above off a byte slice, advancing pos.
type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) byte_() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, ErrTruncated
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) bool_() (bool, error) {
	b, err := d.byte_()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	d.pos += n
	return v, nil
}

func (d *decoder) varint() (int64, error) {
	v, n := binary.Varint(d.data[d.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	d.pos += n
	return v, nil
}

func (d *decoder) bytes(n uint64) ([]byte, error) {
	if uint64(len(d.data)-d.pos) < n {
		return nil, ErrTruncated
	}
	b := d.data[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

func (d *decoder) string() (string, error) {
	n, err := d.uvarint()
	if err != nil {
		return "", err
	}
	b, err := d.bytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) stringSlice() ([]string, error) {
	count, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	ss := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		s, err := d.string()
		if err != nil {
			return nil, err
		}
		ss = append(ss, s)
	}
	return ss, nil
}

func (d *decoder) value() (Value, error) {
	kb, err := d.byte_()
	if err != nil {
		return Value{}, err
	}
	switch Kind(kb) {
	case KindNull:
		return Null(), nil
	case KindString:
		s, err := d.string()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case KindInt64:
		i, err := d.varint()
		if err != nil {
			return Value{}, err
		}
		return Int64(i), nil
	case KindFloat64:
		b, err := d.bytes(8)
		if err != nil {
			return Value{}, err
		}
		return Float64(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	case KindBool:
		b, err := d.bool_()
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case KindBytes:
		n, err := d.uvarint()
		if err != nil {
			return Value{}, err
		}
		b, err := d.bytes(n)
		if err != nil {
			return Value{}, err
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		return Bytes(cp), nil
	case KindMap:
		count, err := d.uvarint()
		if err != nil {
			return Value{}, err
		}
		m := make(map[string]Value, count)
		for i := uint64(0); i < count; i++ {
			k, err := d.string()
			if err != nil {
				return Value{}, err
			}
			v, err := d.value()
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("event: unknown value kind %d", kb)
	}
}
