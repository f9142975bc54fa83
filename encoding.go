package lms

import (
	"encoding/binary"
)

// Returns the signature as specified in RFC 8554 (without the message):
//
//	u32str(q) ‖ u32str(otstype) ‖ C ‖ y[0] ‖ ... ‖ y[p-1] ‖
//	    u32str(type) ‖ path[0] ‖ ... ‖ path[h-1]
//
// Will never return an error.
func (sig *Signature) MarshalBinary() ([]byte, error) {
	ctx := sig.ctx
	ret := make([]byte, ctx.sigBytes)
	binary.BigEndian.PutUint32(ret[0:4], uint32(sig.seqNo))
	binary.BigEndian.PutUint32(ret[4:8], ctx.otsType)
	off := 8 + copy(ret[8:], sig.drv)
	off += copy(ret[off:], sig.wotsSig)
	binary.BigEndian.PutUint32(ret[off:off+4], ctx.lmsType)
	copy(ret[off+4:], sig.authPath)
	return ret, nil
}

// Initializes the signature from the format returned by MarshalBinary.
// The parameters of the signature are determined by the typecodes it
// contains.  Whether the leaf index is in range is checked by Verify.
func (sig *Signature) UnmarshalBinary(buf []byte) error {
	if len(buf) < 8 {
		return kindErrorf(ErrInvalidSignatureLength, "signature is too short")
	}
	otsType := binary.BigEndian.Uint32(buf[4:8])
	ots, ok := otsTypecodeLut[otsType]
	if !ok {
		return kindErrorf(ErrInvalidParams, "unknown LM-OTS typecode 0x%08x",
			otsType)
	}

	// The position of the LMS typecode depends on the LM-OTS parameters.
	otsParams := Params{Func: ots.fn, N: ots.n, WotsW: ots.w}
	lmsTypeOff := int(4 + otsParams.WotsSignatureSize())
	if len(buf) < lmsTypeOff+4 {
		return kindErrorf(ErrInvalidSignatureLength, "signature is too short")
	}
	lmsType := binary.BigEndian.Uint32(buf[lmsTypeOff : lmsTypeOff+4])

	params, err := ParamsFromTypecodes(lmsType, otsType)
	if err != nil {
		return err
	}
	ctx, err := NewContext(*params)
	if err != nil {
		return err
	}
	if len(buf) != int(ctx.sigBytes) {
		return kindErrorf(ErrInvalidSignatureLength,
			"%s signature should be %d bytes, not %d",
			ctx.Name(), ctx.sigBytes, len(buf))
	}

	n := int(ctx.p.N)
	sig.ctx = ctx
	sig.seqNo = SignatureSeqNo(binary.BigEndian.Uint32(buf[0:4]))
	sig.drv = append([]byte(nil), buf[8:8+n]...)
	sig.wotsSig = append([]byte(nil), buf[8+n:lmsTypeOff]...)
	sig.authPath = append([]byte(nil), buf[lmsTypeOff+4:]...)
	return nil
}

// Returns the public key as specified in RFC 8554:
//
//	u32str(type) ‖ u32str(otstype) ‖ I ‖ T[1]
//
// Will never return an error.
func (pk *PublicKey) MarshalBinary() ([]byte, error) {
	ret := make([]byte, pk.ctx.pkBytes)
	binary.BigEndian.PutUint32(ret[0:4], pk.ctx.lmsType)
	binary.BigEndian.PutUint32(ret[4:8], pk.ctx.otsType)
	copy(ret[8:], pk.id)
	copy(ret[8+IdentifierSize:], pk.root)
	return ret, nil
}

// Initializes the public key from the format returned by MarshalBinary.
func (pk *PublicKey) UnmarshalBinary(buf []byte) error {
	if len(buf) < 8 {
		return kindErrorf(ErrInvalidKeyLength, "public key is too short")
	}
	params, err := ParamsFromTypecodes(
		binary.BigEndian.Uint32(buf[0:4]),
		binary.BigEndian.Uint32(buf[4:8]))
	if err != nil {
		return err
	}
	ctx, err := NewContext(*params)
	if err != nil {
		return err
	}
	if len(buf) != int(ctx.pkBytes) {
		return kindErrorf(ErrInvalidKeyLength,
			"%s public key should be %d bytes, not %d",
			ctx.Name(), ctx.pkBytes, len(buf))
	}

	pk.ctx = ctx
	pk.id = append([]byte(nil), buf[8:8+IdentifierSize]...)
	pk.root = append([]byte(nil), buf[8+IdentifierSize:]...)
	return nil
}

// Exports the private key as
//
//	I ‖ u32str(type) ‖ u32str(otstype) ‖ u32str(q) ‖ SEED
//
// where q is the first leaf not used or reserved by sk.  The remaining
// leafs are handed over to the exported key: sk is exhausted afterwards.
func (sk *PrivateKey) MarshalBinary() ([]byte, error) {
	q, err := sk.lc.handOver()
	if err != nil {
		return nil, err
	}

	ret := make([]byte, sk.ctx.skBytes)
	copy(ret, sk.id)
	binary.BigEndian.PutUint32(ret[16:20], sk.ctx.lmsType)
	binary.BigEndian.PutUint32(ret[20:24], sk.ctx.otsType)
	binary.BigEndian.PutUint32(ret[24:28], uint32(q))
	copy(ret[28:], sk.seed)
	return ret, nil
}

// Imports a private key exported with PrivateKey.MarshalBinary() into
// the given container.
// NOTE Do not forget to Close() the returned PrivateKey
func ImportPrivateKey(ctr PrivateKeyContainer, buf []byte) (
	*PrivateKey, *PublicKey, Error) {
	if len(buf) < 28 {
		return nil, nil, kindErrorf(ErrInvalidKeyLength,
			"private key is too short")
	}
	params, err := ParamsFromTypecodes(
		binary.BigEndian.Uint32(buf[16:20]),
		binary.BigEndian.Uint32(buf[20:24]))
	if err != nil {
		return nil, nil, err
	}
	ctx, err := NewContext(*params)
	if err != nil {
		return nil, nil, err
	}
	if len(buf) != int(ctx.skBytes) {
		return nil, nil, kindErrorf(ErrInvalidKeyLength,
			"%s private key should be %d bytes, not %d",
			ctx.Name(), ctx.skBytes, len(buf))
	}
	q := uint64(binary.BigEndian.Uint32(buf[24:28]))
	if q > ctx.leafs {
		return nil, nil, kindErrorf(ErrInvalidLeafIndex,
			"private key is at leaf %d of %d", q, ctx.leafs)
	}

	secret := make([]byte, IdentifierSize+ctx.p.N)
	copy(secret, buf[:IdentifierSize])
	copy(secret[IdentifierSize:], buf[28:])
	if err = ctr.Reset(secret, ctx.p); err != nil {
		return nil, nil, err
	}
	if err = ctr.SetSeqNo(SignatureSeqNo(q)); err != nil {
		return nil, nil, err
	}

	sk := ctx.newPrivateKey(ctr, secret, SignatureSeqNo(q))
	if err = sk.loadTree(); err != nil {
		return nil, nil, err
	}
	return sk, sk.PublicKey(), nil
}
