package resp

import (
	"strconv"
)

// Encode renders f back to wire bytes. It is a total function over Frame:
// every value the decoder can produce round-trips through it.
func Encode(f Frame) []byte {
	switch f.Type {
	case SimpleString:
		return encodeLine('+', f.Str)
	case Error:
		return encodeLine('-', f.Str)
	case Integer:
		return encodeLine(':', strconv.FormatInt(f.Int, 10))
	case BulkString:
		if f.Null {
			return []byte("$-1\r\n")
		}
		return encodeBulk(f.Bulk)
	case Array:
		if f.Null {
			return []byte("*-1\r\n")
		}
		out := append([]byte("*"+strconv.Itoa(len(f.Items))+"\r\n"))
		for _, item := range f.Items {
			out = append(out, Encode(item)...)
		}
		return out
	default:
		return nil
	}
}

func encodeLine(prefix byte, s string) []byte {
	out := make([]byte, 0, len(s)+3)
	out = append(out, prefix)
	out = append(out, s...)
	out = append(out, '\r', '\n')
	return out
}

func encodeBulk(b []byte) []byte {
	header := "$" + strconv.Itoa(len(b)) + "\r\n"
	out := make([]byte, 0, len(header)+len(b)+2)
	out = append(out, header...)
	out = append(out, b...)
	out = append(out, '\r', '\n')
	return out
}

// EncodeSimpleString is a convenience for the common "+OK\r\n" shape.
func EncodeSimpleString(s string) []byte { return Encode(NewSimpleString(s)) }

// EncodeError is a convenience for "-ERR ...\r\n" replies.
func EncodeError(s string) []byte { return Encode(NewError(s)) }

// EncodeInteger is a convenience for ":N\r\n" replies.
func EncodeInteger(n int64) []byte { return Encode(NewInteger(n)) }

// EncodeBulkString is a convenience for "$N\r\n...\r\n" replies.
func EncodeBulkString(s string) []byte { return Encode(NewBulkString([]byte(s))) }

// EncodeNullBulkString is a convenience for "$-1\r\n".
func EncodeNullBulkString() []byte { return Encode(NewNullBulkString()) }

// EncodeStringArray is a convenience for an array of bulk strings.
func EncodeStringArray(items []string) []byte {
	frames := make([]Frame, len(items))
	for i, s := range items {
		frames[i] = NewBulkString([]byte(s))
	}
	return Encode(NewArray(frames))
}

// EncodeCommand renders args as the RESP array-of-bulk-strings a client
// command (or a replicated command) takes on the wire. It is the exact
// byte-identical encoding the replication fan-out requires (spec.md I4).
func EncodeCommand(args []string) []byte {
	return EncodeStringArray(args)
}

// EncodeRawSnapshot renders the server-to-replica snapshot frame: a bulk
// header followed by the raw payload with NO trailing CRLF (spec.md §4.1).
func EncodeRawSnapshot(payload []byte) []byte {
	header := "$" + strconv.Itoa(len(payload)) + "\r\n"
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	out = append(out, payload...)
	return out
}
