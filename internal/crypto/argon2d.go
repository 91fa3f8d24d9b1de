// Copyright 2016 The Sandpass Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// argon2dKey implements Argon2d (data-dependent memory addressing),
// which x/crypto/argon2 omits on purpose. It follows the reference
// algorithm directly rather than going through a C binding, since
// nothing in the module's dependency set exposes Argon2d. The
// constant-time argument against Argon2d (cache-timing side channels
// during key derivation) doesn't apply here: this runs once per
// database open, not per password guess by an attacker who shares the
// machine.
func argon2dKey(password []byte, p Argon2Params) [32]byte {
	const (
		blockWords = 128 // 1024 bytes / 8
		syncPoints = 4
	)

	lanes := uint32(p.Parallelism)
	if lanes == 0 {
		lanes = 1
	}

	memBlocks := uint32(p.Memory)
	if memBlocks < 2*syncPoints*lanes {
		memBlocks = 2 * syncPoints * lanes
	}
	memBlocks -= memBlocks % (syncPoints * lanes)

	laneLength := memBlocks / lanes
	segmentLength := laneLength / syncPoints

	h0 := argon2H0(password, p, lanes, memBlocks)

	mem := make([]argon2Block, uint64(lanes)*uint64(laneLength))
	for lane := uint32(0); lane < lanes; lane++ {
		mem[blockIndex(lane, 0, laneLength)] = argon2HPrime1024(h0, 0, lane)
		mem[blockIndex(lane, 1, laneLength)] = argon2HPrime1024(h0, 1, lane)
	}

	iterations := uint32(p.Iterations)
	if iterations == 0 {
		iterations = 1
	}

	for pass := uint32(0); pass < iterations; pass++ {
		for slice := uint32(0); slice < syncPoints; slice++ {
			for lane := uint32(0); lane < lanes; lane++ {
				startIdx := uint32(0)
				if pass == 0 && slice == 0 {
					startIdx = 2
				}
				for idx := startIdx; idx < segmentLength; idx++ {
					fillArgon2Block(mem, pass, lane, slice, idx, lanes, laneLength, segmentLength)
				}
			}
		}
	}

	var final argon2Block
	for lane := uint32(0); lane < lanes; lane++ {
		last := mem[blockIndex(lane, laneLength-1, laneLength)]
		for i := range final {
			final[i] ^= last[i]
		}
	}

	var finalBytes [blockWords * 8]byte
	for i, w := range final {
		binary.LittleEndian.PutUint64(finalBytes[i*8:], w)
	}
	tag := argon2HPrimeVar(finalBytes[:], 32)
	var out [32]byte
	copy(out[:], tag)
	return out
}

type argon2Block [128]uint64

func blockIndex(lane, idx, laneLength uint32) uint64 {
	return uint64(lane)*uint64(laneLength) + uint64(idx)
}

// argon2H0 computes the 64-byte seed hash over the Argon2 parameter
// block: parallelism, tag length, memory (KiB), iterations, version,
// type (0 = Argon2d), and the length-prefixed password/salt/secret/
// associated-data strings.
func argon2H0(password []byte, p Argon2Params, lanes, memBlocks uint32) [64]byte {
	h, _ := blake2b.New512(nil)
	var u32 [4]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32[:], v)
		h.Write(u32[:])
	}
	putStr := func(b []byte) {
		putU32(uint32(len(b)))
		h.Write(b)
	}
	putU32(lanes)
	putU32(32) // tag length
	putU32(memBlocks)
	putU32(uint32(p.Iterations))
	version := uint32(p.Version)
	if version == 0 {
		version = 0x13
	}
	putU32(version)
	putU32(0) // Argon2d
	putStr(password)
	putStr(p.Salt)
	putStr(p.Secret)
	putStr(p.AssocData)
	var out [64]byte
	h.Sum(out[:0])
	return out
}

// argon2HPrime1024 generates the first two blocks of each lane, which
// take the segment/lane index rather than a single block's worth of
// input.
func argon2HPrime1024(h0 [64]byte, blockInLane, lane uint32) argon2Block {
	var msg [72]byte
	copy(msg[:64], h0[:])
	binary.LittleEndian.PutUint32(msg[64:], blockInLane)
	binary.LittleEndian.PutUint32(msg[68:], lane)
	return bytesToBlock(argon2HPrimeVar(msg[:], 1024))
}

// argon2HPrimeVar is Argon2's variable-length hash H': a single
// BLAKE2b call with the requested output length prefixed when that
// length fits in one BLAKE2b digest, otherwise a chain of truncated
// 64-byte BLAKE2b digests each feeding the next.
func argon2HPrimeVar(msg []byte, outLen int) []byte {
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(outLen))

	if outLen <= 64 {
		h, _ := blake2b.New(outLen, nil)
		h.Write(lenPrefix[:])
		h.Write(msg)
		return h.Sum(nil)
	}

	out := make([]byte, 0, outLen)
	h, _ := blake2b.New512(nil)
	h.Write(lenPrefix[:])
	h.Write(msg)
	v := h.Sum(nil)
	out = append(out, v[:32]...)
	remaining := outLen - 32

	for remaining > 64 {
		h2, _ := blake2b.New512(nil)
		h2.Write(v)
		v = h2.Sum(nil)
		out = append(out, v[:32]...)
		remaining -= 32
	}

	h3, _ := blake2b.New(remaining, nil)
	h3.Write(v)
	out = append(out, h3.Sum(nil)...)
	return out
}

func bytesToBlock(b []byte) argon2Block {
	var blk argon2Block
	for i := range blk {
		blk[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return blk
}

// fillArgon2Block computes the block at (lane, slice*segmentLength+idx)
// using Argon2d's data-dependent addressing: the reference block is
// chosen from values already sitting in the previous block, not from a
// side channel of pseudo-random address blocks like Argon2i.
func fillArgon2Block(mem []argon2Block, pass, lane, slice, idx, lanes, laneLength, segmentLength uint32) {
	curIdx := slice*segmentLength + idx
	prevIdx := curIdx
	if prevIdx == 0 {
		prevIdx = laneLength - 1
	} else {
		prevIdx--
	}
	prev := mem[blockIndex(lane, prevIdx, laneLength)]

	j1 := uint32(prev[0])
	j2 := uint32(prev[0] >> 32)

	refLane := lane
	if !(pass == 0 && slice == 0) {
		refLane = j2 % lanes
	}

	sameLane := refLane == lane
	var refAreaSize uint32
	switch {
	case pass == 0 && slice == 0:
		refAreaSize = idx - 1
	case pass == 0 && sameLane:
		refAreaSize = slice*segmentLength + idx - 1
	case pass == 0:
		refAreaSize = slice * segmentLength
		if idx == 0 {
			refAreaSize--
		}
	case sameLane:
		refAreaSize = laneLength - segmentLength + idx - 1
	default:
		refAreaSize = laneLength - segmentLength
		if idx == 0 {
			refAreaSize--
		}
	}

	rel := uint64(j1)
	rel = (rel * rel) >> 32
	rel = (uint64(refAreaSize) * rel) >> 32
	relPos := uint64(refAreaSize) - 1 - rel

	startPos := uint32(0)
	if pass != 0 {
		if slice == 3 {
			startPos = 0
		} else {
			startPos = (slice + 1) * segmentLength
		}
	}
	refIdx := (uint64(startPos) + relPos) % uint64(laneLength)

	refBlock := mem[blockIndex(refLane, uint32(refIdx), laneLength)]
	cur := mem[blockIndex(lane, curIdx, laneLength)]

	var next argon2Block
	argon2Compress(&next, &prev, &refBlock)
	if pass > 0 {
		for i := range next {
			next[i] ^= cur[i]
		}
	}
	mem[blockIndex(lane, curIdx, laneLength)] = next
}

// argon2Compress is Argon2's compression function G: XOR the two
// input blocks, apply the BLAKE2b-derived permutation P to every row
// and then every column, and XOR the result back onto the input to
// feed forward.
func argon2Compress(dst, a, b *argon2Block) {
	var r argon2Block
	for i := range r {
		r[i] = a[i] ^ b[i]
	}
	z := r
	for i := 0; i < 8; i++ {
		argon2Round16(&z, i*16)
	}
	for i := 0; i < 8; i++ {
		argon2RoundColumn(&z, i)
	}
	for i := range dst {
		dst[i] = r[i] ^ z[i]
	}
}

func argon2Round16(z *argon2Block, off int) {
	v := z[off : off+16]
	argon2GRound(v, 0, 4, 8, 12)
	argon2GRound(v, 1, 5, 9, 13)
	argon2GRound(v, 2, 6, 10, 14)
	argon2GRound(v, 3, 7, 11, 15)
	argon2GRound(v, 0, 5, 10, 15)
	argon2GRound(v, 1, 6, 11, 12)
	argon2GRound(v, 2, 7, 8, 13)
	argon2GRound(v, 3, 4, 9, 14)
}

func argon2RoundColumn(z *argon2Block, col int) {
	idx := [16]int{}
	for r := 0; r < 8; r++ {
		idx[r*2] = 2*col + 16*r
		idx[r*2+1] = 2*col + 1 + 16*r
	}
	var v [16]uint64
	for i, p := range idx {
		v[i] = z[p]
	}
	argon2GRound(v[:], 0, 4, 8, 12)
	argon2GRound(v[:], 1, 5, 9, 13)
	argon2GRound(v[:], 2, 6, 10, 14)
	argon2GRound(v[:], 3, 7, 11, 15)
	argon2GRound(v[:], 0, 5, 10, 15)
	argon2GRound(v[:], 1, 6, 11, 12)
	argon2GRound(v[:], 2, 7, 8, 13)
	argon2GRound(v[:], 3, 4, 9, 14)
	for i, p := range idx {
		z[p] = v[i]
	}
}

func argon2GRound(v []uint64, a, b, c, d int) {
	v[a] = blamka(v[a], v[b])
	v[d] = rotr64(v[d]^v[a], 32)
	v[c] = blamka(v[c], v[d])
	v[b] = rotr64(v[b]^v[c], 24)
	v[a] = blamka(v[a], v[b])
	v[d] = rotr64(v[d]^v[a], 16)
	v[c] = blamka(v[c], v[d])
	v[b] = rotr64(v[b]^v[c], 63)
}

func blamka(x, y uint64) uint64 {
	xl := x & 0xffffffff
	yl := y & 0xffffffff
	return x + y + 2*xl*yl
}

func rotr64(x uint64, n uint) uint64 {
	return (x >> n) | (x << (64 - n))
}
