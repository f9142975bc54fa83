package lms

import (
	"encoding/binary"
	"math/bits"
)

type HashFunc uint8

const (
	SHA2  HashFunc = 0 // SHA-256, truncated to N bytes
	SHAKE HashFunc = 1 // SHAKE256 with N bytes of output
)

// Parameters of an LMS instance: the parameters of the tree together with
// those of the LM-OTS one-time signatures at its leafs.
type Params struct {
	Func   HashFunc // which hash function to use
	N      uint32   // security parameter: length of hashes in bytes (24 or 32)
	Height uint32   // height of the tree; a key can sign 2^Height messages

	// LM-OTS Winternitz width: number of bits per digit.  Only 1, 2, 4
	// and 8 are supported.
	WotsW uint8
}

// Entry in the registry of LMS tree typecodes
type lmsRegEntry struct {
	name     string // eg. LMS_SHA256_M32_H10
	typecode uint32
	fn       HashFunc
	m        uint32
	height   uint32
}

// Entry in the registry of LM-OTS typecodes
type otsRegEntry struct {
	name     string // eg. LMOTS_SHA256_N32_W4
	typecode uint32
	fn       HashFunc
	n        uint32
	w        uint8
}

// Registry of LMS typecodes, see RFC 8554 and NIST SP 800-208.
var lmsRegistry = []lmsRegEntry{
	{"LMS_SHA256_M32_H5", 0x00000005, SHA2, 32, 5},
	{"LMS_SHA256_M32_H10", 0x00000006, SHA2, 32, 10},
	{"LMS_SHA256_M32_H15", 0x00000007, SHA2, 32, 15},
	{"LMS_SHA256_M32_H20", 0x00000008, SHA2, 32, 20},
	{"LMS_SHA256_M32_H25", 0x00000009, SHA2, 32, 25},

	{"LMS_SHA256_M24_H5", 0x0000000a, SHA2, 24, 5},
	{"LMS_SHA256_M24_H10", 0x0000000b, SHA2, 24, 10},
	{"LMS_SHA256_M24_H15", 0x0000000c, SHA2, 24, 15},
	{"LMS_SHA256_M24_H20", 0x0000000d, SHA2, 24, 20},
	{"LMS_SHA256_M24_H25", 0x0000000e, SHA2, 24, 25},

	{"LMS_SHAKE_M32_H5", 0x0000000f, SHAKE, 32, 5},
	{"LMS_SHAKE_M32_H10", 0x00000010, SHAKE, 32, 10},
	{"LMS_SHAKE_M32_H15", 0x00000011, SHAKE, 32, 15},
	{"LMS_SHAKE_M32_H20", 0x00000012, SHAKE, 32, 20},
	{"LMS_SHAKE_M32_H25", 0x00000013, SHAKE, 32, 25},

	{"LMS_SHAKE_M24_H5", 0x00000014, SHAKE, 24, 5},
	{"LMS_SHAKE_M24_H10", 0x00000015, SHAKE, 24, 10},
	{"LMS_SHAKE_M24_H15", 0x00000016, SHAKE, 24, 15},
	{"LMS_SHAKE_M24_H20", 0x00000017, SHAKE, 24, 20},
	{"LMS_SHAKE_M24_H25", 0x00000018, SHAKE, 24, 25},
}

// Registry of LM-OTS typecodes, see RFC 8554 and NIST SP 800-208.
var otsRegistry = []otsRegEntry{
	{"LMOTS_SHA256_N32_W1", 0x00000001, SHA2, 32, 1},
	{"LMOTS_SHA256_N32_W2", 0x00000002, SHA2, 32, 2},
	{"LMOTS_SHA256_N32_W4", 0x00000003, SHA2, 32, 4},
	{"LMOTS_SHA256_N32_W8", 0x00000004, SHA2, 32, 8},

	{"LMOTS_SHA256_N24_W1", 0x00000005, SHA2, 24, 1},
	{"LMOTS_SHA256_N24_W2", 0x00000006, SHA2, 24, 2},
	{"LMOTS_SHA256_N24_W4", 0x00000007, SHA2, 24, 4},
	{"LMOTS_SHA256_N24_W8", 0x00000008, SHA2, 24, 8},

	{"LMOTS_SHAKE_N32_W1", 0x00000009, SHAKE, 32, 1},
	{"LMOTS_SHAKE_N32_W2", 0x0000000a, SHAKE, 32, 2},
	{"LMOTS_SHAKE_N32_W4", 0x0000000b, SHAKE, 32, 4},
	{"LMOTS_SHAKE_N32_W8", 0x0000000c, SHAKE, 32, 8},

	{"LMOTS_SHAKE_N24_W1", 0x0000000d, SHAKE, 24, 1},
	{"LMOTS_SHAKE_N24_W2", 0x0000000e, SHAKE, 24, 2},
	{"LMOTS_SHAKE_N24_W4", 0x0000000f, SHAKE, 24, 4},
	{"LMOTS_SHAKE_N24_W8", 0x00000010, SHAKE, 24, 8},
}

var lmsTypecodeLut map[uint32]lmsRegEntry
var otsTypecodeLut map[uint32]otsRegEntry
var registryNameLut map[string]Params

// Initializes algorithm lookup tables.
func init() {
	log = &dummyLogger{}
	lmsTypecodeLut = make(map[uint32]lmsRegEntry)
	otsTypecodeLut = make(map[uint32]otsRegEntry)
	registryNameLut = make(map[string]Params)
	for _, entry := range lmsRegistry {
		lmsTypecodeLut[entry.typecode] = entry
	}
	for _, entry := range otsRegistry {
		otsTypecodeLut[entry.typecode] = entry
	}
	for _, l := range lmsRegistry {
		for _, o := range otsRegistry {
			if l.fn != o.fn || l.m != o.n {
				continue
			}
			registryNameLut[l.name+"/"+o.name] = Params{
				Func:   l.fn,
				N:      l.m,
				Height: l.height,
				WotsW:  o.w,
			}
		}
	}
}

// Returns the parameters for the given pair of LMS and LM-OTS typecodes.
// Fails with ErrInvalidParams if either typecode is unknown or if the
// hash functions of the two do not agree.
func ParamsFromTypecodes(lmsType, otsType uint32) (*Params, Error) {
	l, ok := lmsTypecodeLut[lmsType]
	if !ok {
		return nil, kindErrorf(ErrInvalidParams, "unknown LMS typecode 0x%08x", lmsType)
	}
	o, ok := otsTypecodeLut[otsType]
	if !ok {
		return nil, kindErrorf(ErrInvalidParams, "unknown LM-OTS typecode 0x%08x", otsType)
	}
	if l.fn != o.fn || l.m != o.n {
		return nil, kindErrorf(ErrInvalidParams, "%s can't be combined with %s",
			l.name, o.name)
	}
	return &Params{Func: l.fn, N: l.m, Height: l.height, WotsW: o.w}, nil
}

// Returns parameters for the named LMS instance (and nil if there is no
// such algorithm).  Names are of the form
//
//	LMS_SHA256_M32_H10/LMOTS_SHA256_N32_W4
func ParamsFromName(name string) *Params {
	params, ok := registryNameLut[name]
	if !ok {
		return nil
	}
	return &params
}

// Returns the LMS and LM-OTS typecodes of these parameters.  ok is false
// if there are no such typecodes.
func (params *Params) Typecodes() (lmsType, otsType uint32, ok bool) {
	var lmsOk, otsOk bool
	for _, entry := range lmsRegistry {
		if entry.fn == params.Func && entry.m == params.N &&
			entry.height == params.Height {
			lmsType = entry.typecode
			lmsOk = true
		}
	}
	for _, entry := range otsRegistry {
		if entry.fn == params.Func && entry.n == params.N &&
			entry.w == params.WotsW {
			otsType = entry.typecode
			otsOk = true
		}
	}
	return lmsType, otsType, lmsOk && otsOk
}

// Returns the name of the instance with these parameters and an empty
// string if there is none.
func (params *Params) LookupName() string {
	lmsType, otsType, ok := params.Typecodes()
	if !ok {
		return ""
	}
	return lmsTypecodeLut[lmsType].name + "/" + otsTypecodeLut[otsType].name
}

// Encodes the parameters as the big endian LMS typecode followed by
// the big endian LM-OTS typecode.
func (params *Params) MarshalBinary() ([]byte, error) {
	lmsType, otsType, ok := params.Typecodes()
	if !ok {
		return nil, kindErrorf(ErrInvalidParams, "parameters have no typecodes")
	}
	ret := make([]byte, 8)
	binary.BigEndian.PutUint32(ret[:4], lmsType)
	binary.BigEndian.PutUint32(ret[4:], otsType)
	return ret, nil
}

// Decodes parameters encoded by MarshalBinary()
func (params *Params) UnmarshalBinary(buf []byte) error {
	if len(buf) != 8 {
		return kindErrorf(ErrInvalidParams, "encoded parameters must be 8 bytes")
	}
	p, err := ParamsFromTypecodes(
		binary.BigEndian.Uint32(buf[:4]),
		binary.BigEndian.Uint32(buf[4:]))
	if err != nil {
		return err
	}
	*params = *p
	return nil
}

// Returns the number of LM-OTS digits encoding the message hash
func (params *Params) WotsU() uint32 {
	return (8*params.N + uint32(params.WotsW) - 1) / uint32(params.WotsW)
}

// Returns the number of LM-OTS digits encoding the checksum
func (params *Params) WotsV() uint32 {
	maxSum := ((uint32(1) << params.WotsW) - 1) * params.WotsU()
	checksumBits := uint32(bits.Len32(maxSum))
	return (checksumBits + uint32(params.WotsW) - 1) / uint32(params.WotsW)
}

// Returns the total number of LM-OTS hash chains
func (params *Params) WotsP() uint32 {
	return params.WotsU() + params.WotsV()
}

// Returns the number of bits the checksum is shifted left before
// it's split into digits.
func (params *Params) WotsLS() uint8 {
	return uint8(16 - params.WotsV()*uint32(params.WotsW))
}

// Returns the size of an LM-OTS signature including its typecode
func (params *Params) WotsSignatureSize() uint32 {
	return 4 + params.N + params.WotsP()*params.N
}

// Returns the size of an LMS signature
func (params *Params) SignatureSize() uint32 {
	return 4 + params.WotsSignatureSize() + 4 + params.Height*params.N
}

// Returns the size of an encoded public key
func (params *Params) PublicKeySize() uint32 {
	return 8 + IdentifierSize + params.N
}

// Returns the size of an encoded private key, see PrivateKey.MarshalBinary()
func (params *Params) PrivateKeySize() uint32 {
	return IdentifierSize + 8 + 4 + params.N
}

// Returns the size of the secret stored in a PrivateKeyContainer:
// the identifier followed by the seed.
func (params *Params) SecretSize() int {
	return int(IdentifierSize + params.N)
}

// Returns the size of the buffer that caches the full Merkle tree
func (params *Params) TreeSize() int {
	return int(((uint64(1) << (params.Height + 1)) - 1) * uint64(params.N))
}

// Returns the number of signatures a key with these parameters can create.
func (params *Params) MaxSignatures() uint64 {
	return uint64(1) << params.Height
}

// Returns the maximum signature sequence number
func (params *Params) MaxSignatureSeqNo() uint64 {
	return params.MaxSignatures() - 1
}

// List all named LMS instances
func ListNames() (names []string) {
	for _, l := range lmsRegistry {
		for _, o := range otsRegistry {
			if l.fn != o.fn || l.m != o.n {
				continue
			}
			names = append(names, l.name+"/"+o.name)
		}
	}
	return
}
