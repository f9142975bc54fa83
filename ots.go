package lms

import (
	"encoding/binary"
)

// Converts the given array of bytes into digits of logW bits, most
// significant first.  This is coef(S, i, w) of RFC 8554 for i < len(output).
// Only works if logW divides into 8.
func toBaseW(input []byte, logW uint8, output []uint8) {
	var in uint32 = 0
	var total uint8
	var bits uint8
	mask := uint8((uint16(1) << logW) - 1)

	for out := 0; out < len(output); out++ {
		if bits == 0 {
			total = input[in]
			in++
			bits = 8
		}
		bits -= logW
		output[out] = (total >> bits) & mask
	}
}

// Converts a message hash Q into the positions on the LM-OTS chains: the
// digits of Q followed by the digits of its checksum.
func (ctx *Context) otsDigits(msgHash []byte, out []uint8) {
	ctx.toBaseW(msgHash, out[:ctx.wotsU])

	// compute the checksum
	var csum uint32 = 0
	for i := 0; i < int(ctx.wotsU); i++ {
		csum += ctx.wotsMax - uint32(out[i])
	}
	csum = csum << ctx.wotsLS

	// put checksum in buffer
	var csumBuf [2]byte
	binary.BigEndian.PutUint16(csumBuf[:], uint16(csum))
	ctx.toBaseW(csumBuf[:], out[ctx.wotsU:ctx.wotsP])
}

func (ctx *Context) toBaseW(input []byte, output []uint8) {
	toBaseW(input, ctx.p.WotsW, output)
}

// Compute the (start + steps)th value in the hash chain i of leaf q, given
// the start'th value in the chain.  Never walks past the end of the chain.
func (ctx *Context) otsGenChainInto(pad scratchPad, in []byte,
	start, steps uint32, id []byte, q uint32, i uint16, out []byte) {
	buf := pad.chainBuf()
	writePrefix(buf, id, q, i)
	tmp := buf[chainPrefixSize:]
	copy(tmp, in)
	for j := start; j < start+steps && j < ctx.wotsMax; j++ {
		buf[prefixSize] = uint8(j)
		ctx.hashInto(pad, tmp, buf)
	}
	copy(out, tmp)
}

// Computes the LM-OTS public key K of leaf q from the secret seed.
// The secret chain starts are derived one at a time and never stored.
func (ctx *Context) otsPkGenInto(pad scratchPad, seed, id []byte, q uint32,
	out []byte) {
	n := ctx.p.N
	ys := pad.wotsBuf()
	var i uint32
	for i = 0; i < ctx.wotsP; i++ {
		y := ys[i*n : (i+1)*n]
		ctx.prfInto(pad, seed, id, q, uint16(i), y)
		ctx.otsGenChainInto(pad, y, 0, ctx.wotsMax, id, q, uint16(i), y)
	}
	ctx.otsPkFromChainEnds(pad, id, q, ys, out)
}

// Computes K = H(I ‖ u32str(q) ‖ u16str(D_PBLC) ‖ y[0] ‖ ... ‖ y[p-1])
func (ctx *Context) otsPkFromChainEnds(pad scratchPad, id []byte, q uint32,
	ys, out []byte) {
	buf := pad.prefixBuf()
	writePrefix(buf, id, q, D_PBLC)
	ctx.hashInto(pad, out, buf, ys)
}

// Creates the chain values of an LM-OTS signature of msg with leaf q and
// randomizer C.  out must be ctx.wotsSigLen bytes.
func (ctx *Context) otsSignInto(pad scratchPad, msg, seed, id []byte,
	q uint32, C []byte, out []byte) {
	n := ctx.p.N
	msgHash := pad.msgHashBuf()
	ctx.hashMessageInto(pad, id, q, C, msg, msgHash)
	ctx.otsDigits(msgHash, pad.digits)

	var i uint32
	for i = 0; i < ctx.wotsP; i++ {
		y := out[i*n : (i+1)*n]
		ctx.prfInto(pad, seed, id, q, uint16(i), y)
		ctx.otsGenChainInto(pad, y, 0, uint32(pad.digits[i]),
			id, q, uint16(i), y)
	}
}

// Computes the candidate LM-OTS public key Kc from an LM-OTS signature
// (C, ys) on msg by walking every chain to its end.  Kc equals the public
// key of leaf q only if the signature is valid.
func (ctx *Context) otsPkFromSigInto(pad scratchPad, msg, id []byte,
	q uint32, C, ys, out []byte) Error {
	n := ctx.p.N
	if len(C) != int(n) || len(ys) != int(ctx.wotsSigLen) {
		return kindErrorf(ErrInvalidSignatureLength,
			"LM-OTS signature should have %d chain values of %d bytes",
			ctx.wotsP, n)
	}

	msgHash := pad.msgHashBuf()
	ctx.hashMessageInto(pad, id, q, C, msg, msgHash)
	ctx.otsDigits(msgHash, pad.digits)

	zs := pad.wotsBuf()
	var i uint32
	for i = 0; i < ctx.wotsP; i++ {
		a := uint32(pad.digits[i])
		ctx.otsGenChainInto(pad, ys[i*n:(i+1)*n], a, ctx.wotsMax-a,
			id, q, uint16(i), zs[i*n:(i+1)*n])
	}
	ctx.otsPkFromChainEnds(pad, id, q, zs, out)
	return nil
}

// Computes the randomizer C for leaf q from the secret seed.
func (ctx *Context) otsDeriveRandomizerInto(pad scratchPad, seed, id []byte,
	q uint32, out []byte) {
	ctx.prfInto(pad, seed, id, q, randomizerIndex, out)
}
