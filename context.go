// Go implementation of the LMS post-quantum stateful hash-based signature
// scheme with LM-OTS one-time signatures as described in RFC 8554
// https://datatracker.ietf.org/doc/html/rfc8554 and NIST SP 800-208.
package lms

// Size of the key pair identifier I
const IdentifierSize = 16

// LMS instance.
// Create one using NewContextFromName, NewContextFromTypecodes or NewContext.
type Context struct {
	// Number of worker goroutines ("threads") to use for expensive operations.
	// Will guess an appropriate number if set to 0.
	Threads int

	// If set, the per-signature randomizer C is derived from the secret
	// seed and the leaf index instead of read from crypto/rand.
	DeterministicRandomizer bool

	p           Params // parameters.
	lmsType     uint32 // LMS typecode
	otsType     uint32 // LM-OTS typecode
	wotsU       uint32 // LM-OTS digits for the message hash
	wotsV       uint32 // LM-OTS digits for the checksum
	wotsP       uint32 // total number of LM-OTS chains
	wotsLS      uint8  // left shift of the checksum
	wotsMax     uint32 // last position on a chain: 2^w - 1
	wotsSigLen  uint32 // length of chain values in an LM-OTS signature
	leafs       uint64 // number of leafs: 2^h
	sigBytes    uint32 // size of signature
	pkBytes     uint32 // size of public key
	skBytes     uint32 // size of the encoded private key
	treeBufSize int    // size of the cached tree
	name        string // name of algorithm
}

// Return new context for the given pair of LMS and LM-OTS typecodes (and
// nil if it's unknown).
func NewContextFromTypecodes(lmsType, otsType uint32) *Context {
	params, err := ParamsFromTypecodes(lmsType, otsType)
	if err != nil {
		return nil
	}
	ctx, _ := NewContext(*params)
	return ctx
}

// Return new context for the given LMS algorithm name (and nil if the
// algorithm name is unknown).
func NewContextFromName(name string) *Context {
	params := ParamsFromName(name)
	if params == nil {
		return nil
	}
	ctx, _ := NewContext(*params)
	return ctx
}

// Creates a new context.
func NewContext(params Params) (*Context, Error) {
	if params.Func != SHA2 && params.Func != SHAKE {
		return nil, kindErrorf(ErrInvalidParams, "unknown hash function %d",
			params.Func)
	}
	if params.N != 24 && params.N != 32 {
		return nil, kindErrorf(ErrInvalidParams, "only N=24,32 are supported")
	}
	if params.WotsW != 1 && params.WotsW != 2 && params.WotsW != 4 &&
		params.WotsW != 8 {
		return nil, kindErrorf(ErrInvalidParams,
			"only WotsW=1,2,4,8 are supported")
	}
	lmsType, otsType, ok := params.Typecodes()
	if !ok {
		return nil, kindErrorf(ErrInvalidParams,
			"only Height=5,10,15,20,25 are supported")
	}

	ctx := new(Context)
	ctx.p = params
	ctx.lmsType = lmsType
	ctx.otsType = otsType
	ctx.wotsU = params.WotsU()
	ctx.wotsV = params.WotsV()
	ctx.wotsP = params.WotsP()
	ctx.wotsLS = params.WotsLS()
	ctx.wotsMax = (1 << params.WotsW) - 1
	ctx.wotsSigLen = ctx.wotsP * params.N
	ctx.leafs = params.MaxSignatures()
	ctx.sigBytes = params.SignatureSize()
	ctx.pkBytes = params.PublicKeySize()
	ctx.skBytes = params.PrivateKeySize()
	ctx.treeBufSize = params.TreeSize()
	ctx.name = params.LookupName()
	return ctx, nil
}

// Returns the name of the LMS instance.
func (ctx *Context) Name() string {
	return ctx.name
}

// Get parameters of an LMS instance
func (ctx *Context) Params() Params {
	return ctx.p
}

// Returns the LMS and LM-OTS typecodes of this instance.
func (ctx *Context) Typecodes() (lmsType, otsType uint32) {
	return ctx.lmsType, ctx.otsType
}

// Returns the size of signatures of this LMS instance
func (ctx *Context) SignatureSize() uint32 {
	return ctx.sigBytes
}

// Returns the size of public keys of this LMS instance
func (ctx *Context) PublicKeySize() uint32 {
	return ctx.pkBytes
}

// Returns the number of signatures a single key can create.
func (ctx *Context) MaxSignatures() uint64 {
	return ctx.leafs
}

// A scratchpad used by a single goroutine to avoid memory allocation.
type scratchPad struct {
	buf    []byte
	digits []uint8
	n      uint32

	hash hashScratchPad
}

// Buffer for I ‖ u32str(q) ‖ u16str(i) ‖ u8str(j) ‖ tmp used for
// hash chains and for the derivation of secrets.
func (pad scratchPad) chainBuf() []byte {
	return pad.buf[:chainPrefixSize+pad.n]
}

// Buffer for I ‖ u32str(r) ‖ u16str(D_*)
func (pad scratchPad) prefixBuf() []byte {
	return pad.buf[chainPrefixSize+pad.n : chainPrefixSize+pad.n+prefixSize]
}

// Buffer for the message hash Q
func (pad scratchPad) msgHashBuf() []byte {
	off := chainPrefixSize + pad.n + prefixSize
	return pad.buf[off : off+pad.n]
}

// Buffer for the p chain ends of an LM-OTS key
func (pad scratchPad) wotsBuf() []byte {
	return pad.buf[chainPrefixSize+2*pad.n+prefixSize:]
}

func (ctx *Context) newScratchPad() scratchPad {
	n := ctx.p.N
	pad := scratchPad{
		buf:    make([]byte, chainPrefixSize+2*n+prefixSize+ctx.wotsSigLen),
		digits: make([]uint8, ctx.wotsP),
		n:      n,
		hash:   ctx.newHashScratchPad(),
	}
	return pad
}
