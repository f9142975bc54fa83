package lms

// Sequence number of signatures.
// (Corresponds with leaf indices in the implementation.)
type SignatureSeqNo uint64

// A PrivateKeyContainer has two tasks
//
//  1. It has to store the LMS secret (I ‖ SEED) and sequence number of the
//     first unused signature.
//  2. It has to cache the Merkle tree to increase signing performance.
type PrivateKeyContainer interface {
	// Reset (or initialize) the container with the given secret and
	// parameters.  Resets the sequence number to 0 and drops the cache.
	Reset(secret []byte, params Params) Error

	// Returns the secret stored in the container.
	GetPrivateKey() ([]byte, Error)

	// Returns the parameters of the stored key if the container is
	// initialized (eg. whether its files exist) and nil otherwise.
	Initialized() *Params

	// Returns the buffer for the Merkle tree of params.TreeSize() bytes.
	// The exists return value indicates whether the buffer contains a tree
	// that was committed with CommitCache().
	GetCache() (buf []byte, exists bool, err Error)

	// Records that the buffer returned by GetCache() contains the tree.
	CommitCache() Error

	// Returns the current signature sequence number and increment
	// the stored sequence number by the given amount.
	// The user can use the signatures in this range freely,
	// but should call SetSeqNo() later to record the actual number
	// of signatures used.
	BorrowSeqNos(amount uint32) (SignatureSeqNo, Error)

	// Sets the signature sequence number to the given value.
	// Removes the possible-lost-signatures record set by BorrowSeqNos.
	SetSeqNo(seqNo SignatureSeqNo) Error

	// Returns the current signature sequence number.
	// If BorrowSeqNos() has been called without corresponding SetSeqNo()
	// there might have been signatures lost.  In that case, calls to
	// GetSeqNo will return the number of possibly lost signatures
	// until SetSeqNo() has been called.
	GetSeqNo() (seqNo SignatureSeqNo, lostSigs uint32, err Error)

	// Closes the container.
	Close() Error
}

// PrivateKeyContainer that only lives in memory.  Useful for tests and
// short-lived keys; the state is lost when the process exits.
type memoryContainer struct {
	params     *Params
	secret     []byte
	seqNo      SignatureSeqNo
	borrowed   uint32
	cache      []byte
	cacheValid bool
	closed     bool
}

// Returns a PrivateKeyContainer that keeps everything in memory.
func NewMemoryPrivateKeyContainer() PrivateKeyContainer {
	return &memoryContainer{}
}

func (ctr *memoryContainer) Reset(secret []byte, params Params) Error {
	if ctr.closed {
		return errorf("Container is closed")
	}
	ctr.params = &params
	ctr.secret = append([]byte(nil), secret...)
	ctr.seqNo = 0
	ctr.borrowed = 0
	ctr.cache = nil
	ctr.cacheValid = false
	return nil
}

func (ctr *memoryContainer) GetPrivateKey() ([]byte, Error) {
	if ctr.params == nil {
		return nil, errorf("Container is not initialized")
	}
	return ctr.secret, nil
}

func (ctr *memoryContainer) Initialized() *Params {
	return ctr.params
}

func (ctr *memoryContainer) GetCache() ([]byte, bool, Error) {
	if ctr.params == nil {
		return nil, false, errorf("Container is not initialized")
	}
	if ctr.cache == nil {
		ctr.cache = make([]byte, ctr.params.TreeSize())
	}
	return ctr.cache, ctr.cacheValid, nil
}

func (ctr *memoryContainer) CommitCache() Error {
	if ctr.cache == nil {
		return errorf("No cache to commit")
	}
	ctr.cacheValid = true
	return nil
}

func (ctr *memoryContainer) BorrowSeqNos(amount uint32) (SignatureSeqNo, Error) {
	if ctr.params == nil {
		return 0, errorf("Container is not initialized")
	}
	ret := ctr.seqNo
	ctr.seqNo += SignatureSeqNo(amount)
	ctr.borrowed += amount
	return ret, nil
}

func (ctr *memoryContainer) SetSeqNo(seqNo SignatureSeqNo) Error {
	if ctr.params == nil {
		return errorf("Container is not initialized")
	}
	ctr.seqNo = seqNo
	ctr.borrowed = 0
	return nil
}

func (ctr *memoryContainer) GetSeqNo() (SignatureSeqNo, uint32, Error) {
	if ctr.params == nil {
		return 0, 0, errorf("Container is not initialized")
	}
	return ctr.seqNo, ctr.borrowed, nil
}

func (ctr *memoryContainer) Close() Error {
	ctr.closed = true
	return nil
}
