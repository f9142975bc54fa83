package lms

import (
	"runtime"
	"sync"
)

// Represents a height t merkle tree of n-byte strings T[i,j] as
//
//	                   T[t-1,0]
//	                /
//	              (...)        (...)
//	           /           \            \
//	        T[1,0]        T[1,1]  ...  T[1,2^(t-2)-1]
//	       /     \       /      \          \
//	    T[0,0] T[0,1] T[0,2]  T[0,3]  ...  T[0,2^(t-1)-1]
//
// as an (2^t-1)*n byte array.  For an LMS tree of height h we have t=h+1,
// T[0,q] is the leaf of the q'th one-time key and T[i,j] has node number
// 2^(h-i) + j.
type merkleTree struct {
	height uint32
	n      uint32
	buf    []byte
}

// Makes a merkle tree from a buffer that has been allocated elsewhere,
// for instance by a PrivateKeyContainer.
func merkleTreeFromBuf(buf []byte, height, n uint32) merkleTree {
	return merkleTree{
		height: height,
		n:      n,
		buf:    buf,
	}
}

// Returns a slice to the given node.
func (mt *merkleTree) Node(height, index uint32) []byte {
	ptr := mt.n * ((1 << mt.height) - (1 << (mt.height - height)) + index)
	return mt.buf[ptr : ptr+mt.n]
}

// Returns the root node.
func (mt *merkleTree) Root() []byte {
	return mt.Node(mt.height-1, 0)
}

// Returns the authentication path of the given leaf: its sibling, the
// sibling of its parent, and so on.
func (mt *merkleTree) AuthPath(leaf uint32) []byte {
	ret := make([]byte, (mt.height-1)*mt.n)
	var height uint32
	for height = 0; height < mt.height-1; height++ {
		sibling := (leaf >> height) ^ 1
		copy(ret[height*mt.n:], mt.Node(height, sibling))
	}
	return ret
}

// Compute the whole Merkle tree by generating the LM-OTS public keys
// and then hashing up.
// mt should have height=h+1 and n=ctx.p.N.
func (ctx *Context) genTreeInto(pad scratchPad, seed, id []byte,
	mt merkleTree) {
	h := ctx.p.Height
	var idx uint32

	// First, compute the leafs
	if ctx.Threads == 1 {
		for idx = 0; idx < (1 << h); idx++ {
			ctx.genLeafInto(pad, seed, id, idx, mt.Node(0, idx))
		}
	} else {
		// The code in this branch does exactly the same as in
		// the branch above, but then in parallel.
		wg := &sync.WaitGroup{}
		mux := &sync.Mutex{}
		var perBatch uint32 = 32
		threads := ctx.Threads
		if threads <= 0 {
			threads = runtime.NumCPU()
		}
		wg.Add(threads)
		for i := 0; i < threads; i++ {
			go func() {
				pad := ctx.newScratchPad()
				var ourIdx uint32
				for {
					mux.Lock()
					ourIdx = idx
					idx += perBatch
					mux.Unlock()
					if ourIdx >= 1<<h {
						break
					}
					ourEnd := ourIdx + perBatch
					if ourEnd > 1<<h {
						ourEnd = 1 << h
					}
					for ; ourIdx < ourEnd; ourIdx++ {
						ctx.genLeafInto(pad, seed, id, ourIdx,
							mt.Node(0, ourIdx))
					}
				}
				wg.Done()
			}()
		}

		wg.Wait() // wait for all workers to finish
	}

	// Next, compute the internal nodes and root
	var height uint32
	for height = 1; height <= h; height++ {
		for idx = 0; idx < (1 << (h - height)); idx++ {
			r := (uint32(1) << (h - height)) + idx
			ctx.nodeHashInto(pad, id, r,
				mt.Node(height-1, 2*idx),
				mt.Node(height-1, 2*idx+1),
				mt.Node(height, idx))
		}
	}
}

// Computes the leaf of the Merkle tree for the q'th one-time key.
func (ctx *Context) genLeafInto(pad scratchPad, seed, id []byte, q uint32,
	out []byte) {
	otsPk := make([]byte, ctx.p.N)
	ctx.otsPkGenInto(pad, seed, id, q, otsPk)
	ctx.leafHashInto(pad, id, (uint32(1)<<ctx.p.Height)+q, otsPk, out)
}

// Computes the root of the Merkle tree from the leaf with index q and
// its authentication path.
func (ctx *Context) rootFromAuthPathInto(pad scratchPad, id []byte, q uint32,
	leaf, authPath, out []byte) {
	n := ctx.p.N
	r := (uint32(1) << ctx.p.Height) + q
	copy(out, leaf)

	var height uint32
	for height = 0; height < ctx.p.Height; height++ {
		sibling := authPath[height*n : (height+1)*n]
		if r&1 == 1 {
			// we're on the right, so the sibling hash from the
			// auth path is on the left
			ctx.nodeHashInto(pad, id, r>>1, sibling, out, out)
		} else {
			ctx.nodeHashInto(pad, id, r>>1, out, sibling, out)
		}
		r >>= 1
	}
}
