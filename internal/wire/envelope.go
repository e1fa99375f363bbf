// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Envelope is the mixed JSON + binary message format for data messages
// (compiled jobs, shared values, result arrays — spec §4.8):
//
//	<len>\n<json>\n<len>\n<binary-blob>
//
// The JSON half carries structure; bulk numeric data travels in the
// binary blob, referenced from the JSON by position. Control messages
// (Message in protocol.go) never go through this path — they are plain
// JSON frames (see Frame in frame.go); the auth handshake (auth.go) is
// newline-terminated text and does not use it either.
//
// sharedvalue.Value already models the placeholder the generic spec
// text describes (`{"__array__": true, "id": n}`): a KindArray value
// marshals its Kind/DType/Shape/ArrayID fields and omits Data (tagged
// json:"-"), so the array's position in the binary blob is exactly
// ArrayID. This package's job is only to assign those ids and to pack
// / unpack the blob they point into.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"quickdb/internal/sharedvalue"
)

// assignArrayIDs walks values depth-first in key order, stamping a
// sequential ArrayID onto every KindArray entry (recursing into
// KindList) and returning their Data slices in the same order — the
// order the binary blob packs them in.
func assignArrayIDs(values sharedvalue.Map) [][]float64 {
	var archive [][]float64
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var walk func(v sharedvalue.Value) sharedvalue.Value
	walk = func(v sharedvalue.Value) sharedvalue.Value {
		switch v.Kind {
		case sharedvalue.KindArray:
			v.ArrayID = len(archive)
			archive = append(archive, v.Data)
		case sharedvalue.KindList:
			list := make([]sharedvalue.Value, len(v.List))
			for i, item := range v.List {
				list[i] = walk(item)
			}
			v.List = list
		case sharedvalue.KindMap:
			nested := make(sharedvalue.Map, len(v.Map))
			nestedKeys := make([]string, 0, len(v.Map))
			for k := range v.Map {
				nestedKeys = append(nestedKeys, k)
			}
			sort.Strings(nestedKeys)
			for _, k := range nestedKeys {
				nested[k] = walk(v.Map[k])
			}
			v.Map = nested
		}
		return v
	}

	for _, k := range keys {
		values[k] = walk(values[k])
	}
	return archive
}

// resolveArrayIDs is assignArrayIDs' inverse: it fills Data back in
// from archive by ArrayID, recursing into lists the same way.
func resolveArrayIDs(values sharedvalue.Map, archive [][]float64) error {
	var walk func(v sharedvalue.Value) (sharedvalue.Value, error)
	walk = func(v sharedvalue.Value) (sharedvalue.Value, error) {
		switch v.Kind {
		case sharedvalue.KindArray:
			if v.ArrayID < 0 || v.ArrayID >= len(archive) {
				return v, fmt.Errorf("wire: array id %d out of range (have %d arrays)", v.ArrayID, len(archive))
			}
			v.Data = archive[v.ArrayID]
		case sharedvalue.KindList:
			for i, item := range v.List {
				resolved, err := walk(item)
				if err != nil {
					return v, err
				}
				v.List[i] = resolved
			}
		case sharedvalue.KindMap:
			for k, item := range v.Map {
				resolved, err := walk(item)
				if err != nil {
					return v, err
				}
				v.Map[k] = resolved
			}
		}
		return v, nil
	}

	for k, v := range values {
		resolved, err := walk(v)
		if err != nil {
			return err
		}
		values[k] = resolved
	}
	return nil
}

// packArchive serializes an ordered list of float64 arrays into the
// binary blob: a uint32 array count, then per array a uint32 element
// count followed by that many little-endian float64s. No dtype tag is
// needed since sharedvalue.Value.Data is always float64; narrower
// dtypes (int64, bool) are carried as a float64 vector plus the
// already-JSON DType hint a reader can convert by.
func packArchive(arrays [][]float64) []byte {
	size := 4
	for _, a := range arrays {
		size += 4 + 8*len(a)
	}
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(arrays)))
	off += 4
	for _, a := range arrays {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(a)))
		off += 4
		for _, x := range a {
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(x))
			off += 8
		}
	}
	return buf
}

func unpackArchive(blob []byte) ([][]float64, error) {
	if len(blob) < 4 {
		if len(blob) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("wire: archive truncated")
	}
	count := binary.LittleEndian.Uint32(blob)
	off := 4
	arrays := make([][]float64, count)
	for i := range arrays {
		if off+4 > len(blob) {
			return nil, fmt.Errorf("wire: archive truncated reading array %d header", i)
		}
		n := int(binary.LittleEndian.Uint32(blob[off:]))
		off += 4
		if off+8*n > len(blob) {
			return nil, fmt.Errorf("wire: archive truncated reading array %d data", i)
		}
		data := make([]float64, n)
		for j := range data {
			data[j] = math.Float64frombits(binary.LittleEndian.Uint64(blob[off:]))
			off += 8
		}
		arrays[i] = data
	}
	return arrays, nil
}

// WriteEnvelope writes values as a mixed JSON+binary envelope. values
// is mutated in place: every KindArray entry has its ArrayID stamped.
func WriteEnvelope(w io.Writer, values sharedvalue.Map) error {
	archive := assignArrayIDs(values)
	jsonBytes, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("wire: marshaling envelope json: %w", err)
	}
	blob := packArchive(archive)

	if _, err := fmt.Fprintf(w, "%d\n", len(jsonBytes)); err != nil {
		return err
	}
	if _, err := w.Write(jsonBytes); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\n%d\n", len(blob)); err != nil {
		return err
	}
	_, err = w.Write(blob)
	return err
}

// ReadEnvelope reads and resolves a mixed JSON+binary envelope written
// by WriteEnvelope: "<len>\n<json>\n<len>\n<binary-blob>".
func ReadEnvelope(r *bufio.Reader) (sharedvalue.Map, error) {
	jsonLen, err := readDecimalLine(r)
	if err != nil {
		return nil, fmt.Errorf("wire: reading envelope json length: %w", err)
	}
	jsonBytes := make([]byte, jsonLen)
	if _, err := io.ReadFull(r, jsonBytes); err != nil {
		return nil, fmt.Errorf("wire: reading envelope json section: %w", err)
	}
	if _, err := r.Discard(1); err != nil { // the '\n' separating <json> from the next <len>
		return nil, fmt.Errorf("wire: reading envelope separator: %w", err)
	}

	blobLen, err := readDecimalLine(r)
	if err != nil {
		return nil, fmt.Errorf("wire: reading envelope binary length: %w", err)
	}
	blob := make([]byte, blobLen)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, fmt.Errorf("wire: reading envelope binary section: %w", err)
	}

	values := sharedvalue.Map{}
	if err := json.Unmarshal(jsonBytes, &values); err != nil {
		return nil, fmt.Errorf("wire: unmarshaling envelope json: %w", err)
	}
	archive, err := unpackArchive(blob)
	if err != nil {
		return nil, err
	}
	if err := resolveArrayIDs(values, archive); err != nil {
		return nil, err
	}
	return values, nil
}

// readDecimalLine reads an ASCII decimal integer terminated by '\n'.
func readDecimalLine(r *bufio.Reader) (int, error) {
	lenStr, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	lenStr = lenStr[:len(lenStr)-1]
	n := 0
	for _, c := range lenStr {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed length %q", lenStr)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
