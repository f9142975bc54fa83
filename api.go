package lms

// Contains majority of the API

import (
	"crypto/rand"
	"crypto/subtle"
	"io"

	"github.com/hashicorp/go-multierror"
)

// LMS private key
type PrivateKey struct {
	ctx  *Context // context, which contains algorithm parameters.
	id   []byte   // key pair identifier I
	seed []byte   // SEED from which the LM-OTS secrets are derived
	root []byte   // root node
	mt   merkleTree

	// container that stores the secret key, signature sequence number
	// and caches the Merkle tree
	ctr PrivateKeyContainer

	// first unused leaf and the leafs reserved from the container.
	lc *leafCounter
}

// LMS public key
type PublicKey struct {
	ctx  *Context // context which contains algorithm parameters
	id   []byte   // key pair identifier I
	root []byte   // root node
}

// Represents an LMS signature
type Signature struct {
	ctx      *Context       // context which contains algorithm parameter
	seqNo    SignatureSeqNo // sequence number of this signature. (Same as index.)
	drv      []byte         // randomizer C
	wotsSig  []byte         // LM-OTS chain values y[0], ..., y[p-1]
	authPath []byte
}

// Check whether the sig is a valid signature of this public key
// for the given message.
func (pk *PublicKey) Verify(sig *Signature, msg []byte) (bool, Error) {
	ctx := pk.ctx
	if ctx == nil || sig == nil || sig.ctx == nil {
		return false, kindErrorf(ErrInvalidParams,
			"public key or signature is not initialized")
	}
	if sig.ctx.p != ctx.p {
		return false, kindErrorf(ErrInvalidParams,
			"signature is of type %s, but public key of type %s",
			sig.ctx.Name(), ctx.Name())
	}
	if uint64(sig.seqNo) > ctx.p.MaxSignatureSeqNo() {
		return false, kindErrorf(ErrInvalidLeafIndex,
			"leaf %d does not exist in a tree of height %d",
			sig.seqNo, ctx.p.Height)
	}
	if len(sig.authPath) != int(ctx.p.Height*ctx.p.N) {
		return false, kindErrorf(ErrInvalidSignatureLength,
			"authentication path should be %d bytes",
			ctx.p.Height*ctx.p.N)
	}

	pad := ctx.newScratchPad()
	q := uint32(sig.seqNo)
	curHash := make([]byte, ctx.p.N)
	err := ctx.otsPkFromSigInto(pad, msg, pk.id, q, sig.drv, sig.wotsSig,
		curHash)
	if err != nil {
		return false, err
	}
	ctx.leafHashInto(pad, pk.id, (uint32(1)<<ctx.p.Height)+q, curHash, curHash)
	ctx.rootFromAuthPathInto(pad, pk.id, q, curHash, sig.authPath, curHash)

	if subtle.ConstantTimeCompare(curHash, pk.root) != 1 {
		return false, kindErrorf(ErrVerificationFailed, "Invalid signature")
	}

	return true, nil
}

// Generates an LMS public/private keypair and stores it at the given path
// on the filesystem.
// NOTE Do not forget to Close() the returned PrivateKey
func (ctx *Context) GenerateKeyPair(path string) (
	*PrivateKey, *PublicKey, Error) {
	ctr, err := OpenFSPrivateKeyContainer(path)
	if err != nil {
		return nil, nil, err
	}
	sk, pk, err := ctx.GenerateKeyPairInto(rand.Reader, ctr)
	if err != nil {
		ctr.Close()
		return nil, nil, err
	}
	return sk, pk, nil
}

// Generates an LMS public/private keypair with I and SEED read from rng
// and stores it in the container.
// NOTE Do not forget to Close() the returned PrivateKey
func (ctx *Context) GenerateKeyPairInto(rng io.Reader,
	ctr PrivateKeyContainer) (*PrivateKey, *PublicKey, Error) {
	id := make([]byte, IdentifierSize)
	seed := make([]byte, ctx.p.N)
	if _, err := io.ReadFull(rng, id); err != nil {
		return nil, nil, wrapErrorf(err, "Failed to generate I")
	}
	if _, err := io.ReadFull(rng, seed); err != nil {
		return nil, nil, wrapErrorf(err, "Failed to generate SEED")
	}
	return ctx.DeriveInto(ctr, id, seed)
}

// Derives an LMS public/private keypair from the given identifier and seed
// and stores it at the given path on the filesystem.
// NOTE Do not forget to Close() the returned PrivateKey
func (ctx *Context) Derive(path string, id, seed []byte) (
	*PrivateKey, *PublicKey, Error) {
	ctr, err := OpenFSPrivateKeyContainer(path)
	if err != nil {
		return nil, nil, err
	}
	sk, pk, err := ctx.DeriveInto(ctr, id, seed)
	if err != nil {
		ctr.Close()
		return nil, nil, err
	}
	return sk, pk, nil
}

// Derives an LMS public/private keypair from the given identifier and seed
// and stores it in the container.  id should be a unique IdentifierSize
// byte string and seed a secret random ctx.p.N length byte slice.
func (ctx *Context) DeriveInto(ctr PrivateKeyContainer,
	id, seed []byte) (*PrivateKey, *PublicKey, Error) {
	if len(id) != IdentifierSize || len(seed) != int(ctx.p.N) {
		return nil, nil, kindErrorf(ErrInvalidSeedLength,
			"I should have length %d and SEED length %d",
			IdentifierSize, ctx.p.N)
	}

	secret := make([]byte, IdentifierSize+ctx.p.N)
	copy(secret, id)
	copy(secret[IdentifierSize:], seed)
	err := ctr.Reset(secret, ctx.p)
	if err != nil {
		return nil, nil, err
	}

	sk := ctx.newPrivateKey(ctr, secret, 0)
	if err = sk.loadTree(); err != nil {
		return nil, nil, err
	}

	return sk, sk.PublicKey(), nil
}

func (ctx *Context) newPrivateKey(ctr PrivateKeyContainer, secret []byte,
	seqNo SignatureSeqNo) *PrivateKey {
	return &PrivateKey{
		ctx:  ctx,
		id:   secret[:IdentifierSize],
		seed: secret[IdentifierSize:],
		ctr:  ctr,
		lc:   newLeafCounter(ctr, uint64(seqNo), ctx.leafs),
	}
}

// Loads the Merkle tree from the cache in the container, or generates it.
func (sk *PrivateKey) loadTree() Error {
	buf, exists, err := sk.ctr.GetCache()
	if err != nil {
		return err
	}
	if len(buf) != sk.ctx.treeBufSize {
		return errorf("Cache has size %d instead of %d", len(buf),
			sk.ctx.treeBufSize)
	}
	sk.mt = merkleTreeFromBuf(buf, sk.ctx.p.Height+1, sk.ctx.p.N)

	if exists {
		log.Logf("Using cached Merkle tree")
	} else {
		log.Logf("Generating Merkle tree of %d leafs", sk.ctx.leafs)
		sk.ctx.genTreeInto(sk.ctx.newScratchPad(), sk.seed, sk.id, sk.mt)
		if err = sk.ctr.CommitCache(); err != nil {
			return err
		}
	}

	// The tree might live in memory owned by the container.
	sk.root = append([]byte(nil), sk.mt.Root()...)
	return nil
}

// Loads the private key from the given path on the filesystem.
//
// Returns the number of signatures that might have been lost: when
// BorrowExactly() was used without a subsequent Close(), the unused
// borrowed signatures cannot be used anymore.
// NOTE Do not forget to Close() the returned PrivateKey
func LoadPrivateKey(path string) (
	sk *PrivateKey, pk *PublicKey, lostSigs uint32, err Error) {
	ctr, err := OpenFSPrivateKeyContainer(path)
	if err != nil {
		return nil, nil, 0, err
	}
	sk, pk, lostSigs, err = LoadPrivateKeyFrom(ctr)
	if err != nil {
		ctr.Close()
		return nil, nil, 0, err
	}
	return
}

// Loads the private key from the given container.
// See LoadPrivateKey().
func LoadPrivateKeyFrom(ctr PrivateKeyContainer) (
	*PrivateKey, *PublicKey, uint32, Error) {
	params := ctr.Initialized()
	if params == nil {
		return nil, nil, 0, errorf("Container is not initialized")
	}
	ctx, err := NewContext(*params)
	if err != nil {
		return nil, nil, 0, err
	}

	secret, err := ctr.GetPrivateKey()
	if err != nil {
		return nil, nil, 0, err
	}
	if len(secret) != params.SecretSize() {
		return nil, nil, 0, kindErrorf(ErrInvalidKeyLength,
			"stored secret should be %d bytes", params.SecretSize())
	}

	seqNo, lostSigs, err := ctr.GetSeqNo()
	if err != nil {
		return nil, nil, 0, err
	}
	if lostSigs > 0 {
		log.Logf("%d signatures might have been lost", lostSigs)
	}

	sk := ctx.newPrivateKey(ctr, secret, seqNo)
	if err = sk.loadTree(); err != nil {
		return nil, nil, 0, err
	}
	return sk, sk.PublicKey(), lostSigs, nil
}

// Signs the given message.  Safe to call from several goroutines:
// each signature uses a different leaf.
func (sk *PrivateKey) Sign(msg []byte) (*Signature, Error) {
	q, err := sk.lc.next()
	if err != nil {
		return nil, err
	}

	ctx := sk.ctx
	pad := ctx.newScratchPad()
	sig := Signature{
		ctx:      ctx,
		seqNo:    SignatureSeqNo(q),
		drv:      make([]byte, ctx.p.N),
		wotsSig:  make([]byte, ctx.wotsSigLen),
		authPath: sk.mt.AuthPath(q),
	}

	if ctx.DeterministicRandomizer {
		ctx.otsDeriveRandomizerInto(pad, sk.seed, sk.id, q, sig.drv)
	} else if _, err2 := rand.Read(sig.drv); err2 != nil {
		return nil, wrapErrorf(err2, "crypto.rand.Read()")
	}

	ctx.otsSignInto(pad, msg, sk.seed, sk.id, q, sig.drv, sig.wotsSig)
	return &sig, nil
}

// Reserves signatures in the container such that the next amount calls
// to Sign() do not have to write to the container.  Returns the number
// of signatures that are reserved.
//
// Reserved signatures that have not been used are given back by Close().
// If the process stops before that, they are lost.
func (sk *PrivateKey) BorrowExactly(amount uint64) (uint64, Error) {
	return sk.lc.borrowExactly(amount)
}

// Returns the public key that belongs to this private key.
func (sk *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{
		ctx:  sk.ctx,
		id:   append([]byte(nil), sk.id...),
		root: append([]byte(nil), sk.root...),
	}
}

// Returns the sequence number of the next signature.
func (sk *PrivateKey) SeqNo() SignatureSeqNo {
	return SignatureSeqNo(sk.lc.SeqNo())
}

// Returns the number of signatures this private key can still create.
func (sk *PrivateKey) Remaining() uint64 {
	return sk.lc.Remaining()
}

// Returns whether all signatures have been used.
func (sk *PrivateKey) Exhausted() bool {
	return sk.lc.Exhausted()
}

// Returns the unused borrowed signatures and closes the underlying
// container.  The private key cannot be used afterwards.
func (sk *PrivateKey) Close() Error {
	var result *multierror.Error
	if err := sk.lc.close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := sk.ctr.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return wrapErrorf(err, "Failed to close private key")
	}
	return nil
}

func (sk *PrivateKey) Context() *Context {
	return sk.ctx
}

func (pk *PublicKey) Context() *Context {
	return pk.ctx
}

// Returns the key pair identifier I.
func (pk *PublicKey) Identifier() []byte {
	return pk.id
}

func (sig *Signature) Context() *Context {
	return sig.ctx
}

// Returns the index of the leaf that created this signature.
func (sig *Signature) SeqNo() SignatureSeqNo {
	return sig.seqNo
}
