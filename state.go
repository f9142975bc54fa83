package lms

import (
	"sync"
)

// State of the private key: which one-time leafs have been used.
//
// A leafCounter is Active(q) for q < 2^h, where q is the first unused leaf,
// and Exhausted once q = 2^h.  The only transition is next(), which hands
// out q and moves to Active(q+1) or Exhausted.  There is no transition out
// of Exhausted.
//
// Before a leaf is handed out, the container has recorded that it is used.
// Leafs can be reserved in batches with borrowExactly() to save on writes
// to the container; the unused ones are given back by close().
type leafCounter struct {
	mux      sync.Mutex
	ctr      PrivateKeyContainer
	seqNo    uint64 // first unused leaf
	borrowed uint64 // number of leafs reserved in the container after seqNo
	leafs    uint64 // 2^h
	closed   bool
}

func newLeafCounter(ctr PrivateKeyContainer, seqNo, leafs uint64) *leafCounter {
	return &leafCounter{
		ctr:   ctr,
		seqNo: seqNo,
		leafs: leafs,
	}
}

// Returns the next unused leaf and marks it as used.
func (lc *leafCounter) next() (uint32, Error) {
	lc.mux.Lock()
	defer lc.mux.Unlock()

	if lc.closed {
		return 0, errorf("Private key is closed")
	}
	if lc.seqNo >= lc.leafs {
		return 0, kindErrorf(ErrKeyExhausted, "all %d leafs have been used",
			lc.leafs)
	}

	if lc.borrowed > 0 {
		// If we have some borrowed leafs, we can simply use one of them.
		lc.borrowed--
		lc.seqNo++
		return uint32(lc.seqNo - 1), nil
	}

	// If we didn't borrow leafs, then we have to increment the sequence
	// number in the container before we continue.
	err := lc.ctr.SetSeqNo(SignatureSeqNo(lc.seqNo + 1))
	if err != nil {
		return 0, err
	}
	lc.seqNo++
	return uint32(lc.seqNo - 1), nil
}

// Reserves leafs in the container such that the next amount calls to next()
// do not have to write to the container.  Returns the number of leafs that
// are reserved, which is less than amount near the end of the key.
func (lc *leafCounter) borrowExactly(amount uint64) (uint64, Error) {
	lc.mux.Lock()
	defer lc.mux.Unlock()

	if lc.closed {
		return 0, errorf("Private key is closed")
	}
	if lc.borrowed >= amount {
		return lc.borrowed, nil
	}

	toBorrow := amount - lc.borrowed
	if end := lc.seqNo + lc.borrowed; end+toBorrow > lc.leafs {
		toBorrow = lc.leafs - end
	}
	if toBorrow == 0 {
		return lc.borrowed, nil
	}

	if _, err := lc.ctr.BorrowSeqNos(uint32(toBorrow)); err != nil {
		return lc.borrowed, err
	}
	lc.borrowed += toBorrow
	return lc.borrowed, nil
}

// Gives unused borrowed leafs back to the container.  Afterwards no more
// leafs are handed out.
func (lc *leafCounter) close() Error {
	lc.mux.Lock()
	defer lc.mux.Unlock()

	lc.closed = true
	if lc.borrowed == 0 {
		return nil
	}
	log.Logf("Returning %d unused borrowed leafs", lc.borrowed)
	err := lc.ctr.SetSeqNo(SignatureSeqNo(lc.seqNo))
	if err != nil {
		return err
	}
	lc.borrowed = 0
	return nil
}

// Marks every leaf as used, both in the container and here, and returns
// the first leaf that was neither used nor borrowed before.
func (lc *leafCounter) handOver() (uint64, Error) {
	lc.mux.Lock()
	defer lc.mux.Unlock()

	if lc.closed {
		return 0, errorf("Private key is closed")
	}
	q := lc.seqNo + lc.borrowed
	if lc.seqNo < lc.leafs || lc.borrowed > 0 {
		err := lc.ctr.SetSeqNo(SignatureSeqNo(lc.leafs))
		if err != nil {
			return 0, err
		}
	}
	lc.seqNo = lc.leafs
	lc.borrowed = 0
	return q, nil
}

func (lc *leafCounter) SeqNo() uint64 {
	lc.mux.Lock()
	defer lc.mux.Unlock()
	return lc.seqNo
}

func (lc *leafCounter) Remaining() uint64 {
	lc.mux.Lock()
	defer lc.mux.Unlock()
	return lc.leafs - lc.seqNo
}

func (lc *leafCounter) Exhausted() bool {
	lc.mux.Lock()
	defer lc.mux.Unlock()
	return lc.seqNo >= lc.leafs
}
