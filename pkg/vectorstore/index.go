// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package vectorstore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Index file layout, all little-endian:
//
//	magic   [4]byte "VSIX"
//	version uint32
//	dim     uint32
//	count   uint64
//	data    count*dim float32
var indexMagic = [4]byte{'V', 'S', 'I', 'X'}

const (
	indexVersion    = 1
	indexHeaderSize = 4 + 4 + 4 + 8
)

// flatIndex is an append-only list of equal-length vectors.
type flatIndex struct {
	dim  int
	data []float32 // len == count*dim
}

func newFlatIndex(dim int) *flatIndex {
	return &flatIndex{dim: dim}
}

func (x *flatIndex) count() int {
	if x.dim == 0 {
		return 0
	}
	return len(x.data) / x.dim
}

func (x *flatIndex) add(vec []float32) {
	x.data = append(x.data, vec...)
}

func (x *flatIndex) vector(i int) []float32 {
	if i < 0 || i >= x.count() {
		return nil
	}
	return x.data[i*x.dim : (i+1)*x.dim]
}

func (x *flatIndex) truncate(n int) {
	if n < x.count() {
		x.data = x.data[:n*x.dim]
	}
}

func (x *flatIndex) write(w io.Writer) error {
	var hdr [indexHeaderSize]byte
	copy(hdr[0:4], indexMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], indexVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(x.dim))
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(x.count()))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}

	var buf [4]byte
	for _, v := range x.data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := w.Write(buf[:]); err != nil {
			return fmt.Errorf("write index data: %w", err)
		}
	}
	return nil
}

// indexLoadResult describes what readIndex found on disk.
type indexLoadResult struct {
	index       *flatIndex
	headerCount int // count recorded in the header
}

// readIndex loads an index file. A file whose data section is shorter than
// its header claims is loaded up to the last complete row.
func readIndex(path string) (*indexLoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	var hdr [indexHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	if [4]byte(hdr[0:4]) != indexMagic {
		return nil, errors.New("index file has bad magic")
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v > indexVersion {
		return nil, fmt.Errorf("index version %d is newer than supported %d", v, indexVersion)
	}
	dim := int(binary.LittleEndian.Uint32(hdr[8:12]))
	count := binary.LittleEndian.Uint64(hdr[12:20])
	if dim == 0 && count > 0 {
		return nil, errors.New("index has rows but zero dimension")
	}

	res := &indexLoadResult{index: newFlatIndex(dim), headerCount: int(count)}
	if count == 0 {
		return res, nil
	}

	row := make([]float32, dim)
	var buf [4]byte
	for i := uint64(0); i < count; i++ {
		for j := 0; j < dim; j++ {
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return res, nil
				}
				return nil, fmt.Errorf("read index data: %w", err)
			}
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
		}
		res.index.add(row)
	}
	return res, nil
}
