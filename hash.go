package lms

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/sha3"
)

// Domain separation constants of RFC 8554.
const (
	D_PBLC = 0x8080 // LM-OTS public key
	D_MESG = 0x8181 // message hash
	D_LEAF = 0x8282 // leaf of the Merkle tree
	D_INTR = 0x8383 // internal node of the Merkle tree
)

const (
	// Length of I ‖ u32str(q) ‖ u16str(D)
	prefixSize = IdentifierSize + 4 + 2

	// Length of I ‖ u32str(q) ‖ u16str(i) ‖ u8str(j)
	chainPrefixSize = prefixSize + 1

	// Value of j when deriving secrets instead of walking a chain.
	prfMarker = 0xff

	// Value of i used to derive the randomizer C.  It is larger than
	// the number of chains of any parameter set.
	randomizerIndex = 0xfffd
)

type hashScratchPad struct {
	sha   hash.Hash
	shake sha3.ShakeHash
	sum   []byte // untruncated SHA-256 digest
}

func (ctx *Context) newHashScratchPad() hashScratchPad {
	if ctx.p.Func == SHA2 {
		return hashScratchPad{
			sha: sha256.New(),
			sum: make([]byte, 0, sha256.Size),
		}
	}
	return hashScratchPad{shake: sha3.NewShake256()}
}

// Computes H(in[0] ‖ in[1] ‖ ...) and writes the N byte result into out.
// out may overlap with the input.
func (ctx *Context) hashInto(pad scratchPad, out []byte, in ...[]byte) {
	if ctx.p.Func == SHA2 {
		h := pad.hash.sha
		h.Reset()
		for _, part := range in {
			h.Write(part)
		}
		sum := h.Sum(pad.hash.sum[:0])
		copy(out[:ctx.p.N], sum)
		return
	}

	h := pad.hash.shake
	h.Reset()
	for _, part := range in {
		h.Write(part)
	}
	h.Read(out[:ctx.p.N])
}

// Writes I ‖ u32str(r) ‖ u16str(tag) into buf.
func writePrefix(buf, id []byte, r uint32, tag uint16) {
	copy(buf[:IdentifierSize], id)
	binary.BigEndian.PutUint32(buf[IdentifierSize:IdentifierSize+4], r)
	binary.BigEndian.PutUint16(buf[IdentifierSize+4:prefixSize], tag)
}

// Computes the pseudorandom value H(I ‖ u32str(q) ‖ u16str(i) ‖ 0xff ‖ SEED)
// of Appendix A of RFC 8554.  Used for the secret chain starts and for the
// deterministic randomizer.
func (ctx *Context) prfInto(pad scratchPad, seed, id []byte, q uint32,
	i uint16, out []byte) {
	buf := pad.chainBuf()
	writePrefix(buf, id, q, i)
	buf[prefixSize] = prfMarker
	copy(buf[chainPrefixSize:], seed)
	ctx.hashInto(pad, out, buf)
}

// Computes the hash of a message H(I ‖ u32str(q) ‖ u16str(D_MESG) ‖ C ‖ msg)
func (ctx *Context) hashMessageInto(pad scratchPad, id []byte, q uint32,
	C, msg, out []byte) {
	buf := pad.prefixBuf()
	writePrefix(buf, id, q, D_MESG)
	ctx.hashInto(pad, out, buf, C, msg)
}

// Computes the leaf H(I ‖ u32str(r) ‖ u16str(D_LEAF) ‖ K) for the node
// number r of a leaf with LM-OTS public key K.
func (ctx *Context) leafHashInto(pad scratchPad, id []byte, r uint32,
	otsPk, out []byte) {
	buf := pad.prefixBuf()
	writePrefix(buf, id, r, D_LEAF)
	ctx.hashInto(pad, out, buf, otsPk)
}

// Computes the internal node H(I ‖ u32str(r) ‖ u16str(D_INTR) ‖ left ‖ right)
func (ctx *Context) nodeHashInto(pad scratchPad, id []byte, r uint32,
	left, right, out []byte) {
	buf := pad.prefixBuf()
	writePrefix(buf, id, r, D_INTR)
	ctx.hashInto(pad, out, buf, left, right)
}
