package lms

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// Allocates memory for a merkle tree of n-byte strings of the given height.
func newMerkleTree(height, n uint32) merkleTree {
	return merkleTreeFromBuf(make([]byte, ((1<<height)-1)*n), height, n)
}

// Computes node r of the Merkle tree from scratch, recursively, without
// using any cached nodes.
func (ctx *Context) computeNode(pad scratchPad, seed, id []byte,
	r uint32) []byte {
	ret := make([]byte, ctx.p.N)
	leafs := uint32(1) << ctx.p.Height
	if r >= leafs {
		ctx.genLeafInto(pad, seed, id, r-leafs, ret)
		return ret
	}
	left := ctx.computeNode(pad, seed, id, 2*r)
	right := ctx.computeNode(pad, seed, id, 2*r+1)
	ctx.nodeHashInto(pad, id, r, left, right, ret)
	return ret
}

func TestMerkleTree(t *testing.T) {
	var th uint32 = 3
	var h, i uint32
	mt := newMerkleTree(th, 2)
	for h = 0; h < th; h++ {
		for i = 0; i < 1<<(th-h-1); i++ {
			mt.Node(h, i)[0] = byte(h)
			mt.Node(h, i)[1] = byte(i)
		}
	}
	for h = 0; h < th; h++ {
		for i = 0; i < 1<<(th-h-1); i++ {
			if mt.Node(h, i)[0] != byte(h) ||
				mt.Node(h, i)[1] != byte(i) {
				t.Errorf("Node (%d,%d) has wrong value", h, i)
			}
		}
	}
	if !bytes.Equal(mt.Root(), []byte{2, 0}) {
		t.Errorf("Root() is not the top node")
	}
	if !bytes.Equal(mt.AuthPath(2), []byte{0, 3, 1, 0}) {
		t.Errorf("AuthPath(2) = %v", mt.AuthPath(2))
	}
}

func genTestTree(ctx *Context) merkleTree {
	mt := newMerkleTree(ctx.p.Height+1, ctx.p.N)
	ctx.genTreeInto(ctx.newScratchPad(), testSeed(ctx), testIdentifier(), mt)
	return mt
}

func testGenTree(ctx *Context, expect string, t *testing.T) {
	mt := genTestTree(ctx)
	val := hex.EncodeToString(mt.Root())
	if val != expect {
		t.Errorf("%s genTree gave root %s instead of %s", ctx.Name(), val, expect)
	}
}

func TestGenTree(t *testing.T) {
	testGenTree(NewContextFromName("LMS_SHA256_M32_H5/LMOTS_SHA256_N32_W4"),
		"9f14d31e62796432e776419456458f4fe055a99bcb4befa8eec7920363b47122", t)
	testGenTree(NewContextFromName("LMS_SHAKE_M24_H5/LMOTS_SHAKE_N24_W8"),
		"961f1e1c083ad0e18963aea89d0d7bb3b2261c02435a7200", t)
	testGenTree(NewContextFromName("LMS_SHA256_M24_H5/LMOTS_SHA256_N24_W1"),
		"cb587a2d595e437ac9c6c568abfca18d9760f680f6b95b7a", t)
	testGenTree(NewContextFromName("LMS_SHAKE_M32_H5/LMOTS_SHAKE_N32_W2"),
		"8e16b56e2031023bbe2025089fb469ab418660b1a331c84a04f30759fb216a53", t)
}

// The tree computed bottom-up has the same nodes as computed top-down.
func TestGenTreeRecursive(t *testing.T) {
	ctx := NewContextFromName("LMS_SHA256_M24_H5/LMOTS_SHA256_N24_W8")
	mt := genTestTree(ctx)
	pad := ctx.newScratchPad()
	seed := testSeed(ctx)
	id := testIdentifier()
	h := ctx.p.Height

	if !bytes.Equal(ctx.computeNode(pad, seed, id, 1), mt.Root()) {
		t.Fatalf("recursive root differs")
	}

	var height, idx uint32
	for height = 0; height <= h; height++ {
		for idx = 0; idx < 1<<(h-height); idx++ {
			r := (uint32(1) << (h - height)) + idx
			if !bytes.Equal(ctx.computeNode(pad, seed, id, r),
				mt.Node(height, idx)) {
				t.Fatalf("node %d (%d, %d) differs", r, height, idx)
			}
		}
	}
}

func TestGenTreeThreads(t *testing.T) {
	ctx := NewContextFromName("LMS_SHA256_M32_H5/LMOTS_SHA256_N32_W8")
	ctx.Threads = 1
	mt1 := genTestTree(ctx)
	for _, threads := range []int{2, 3, 8} {
		ctx.Threads = threads
		mt2 := genTestTree(ctx)
		if !bytes.Equal(mt1.buf, mt2.buf) {
			t.Fatalf("tree with %d threads differs", threads)
		}
	}
}

func TestRootFromAuthPath(t *testing.T) {
	ctx := NewContextFromName("LMS_SHAKE_M32_H5/LMOTS_SHAKE_N32_W8")
	mt := genTestTree(ctx)
	pad := ctx.newScratchPad()
	id := testIdentifier()
	root := make([]byte, ctx.p.N)

	var q uint32
	for q = 0; q < 1<<ctx.p.Height; q++ {
		path := mt.AuthPath(q)
		if len(path) != int(ctx.p.Height*ctx.p.N) {
			t.Fatalf("AuthPath(%d) has length %d", q, len(path))
		}
		ctx.rootFromAuthPathInto(pad, id, q, mt.Node(0, q), path, root)
		if !bytes.Equal(root, mt.Root()) {
			t.Fatalf("authentication path of leaf %d does not give root", q)
		}

		// The path of a leaf does not fit its neighbour.
		other := q ^ 1
		ctx.rootFromAuthPathInto(pad, id, other, mt.Node(0, q), path, root)
		if bytes.Equal(root, mt.Root()) {
			t.Fatalf("authentication path of leaf %d fits leaf %d", q, other)
		}
	}
}

func BenchmarkGenTree5SHA256W4(b *testing.B) {
	benchmarkGenTree(NewContextFromName("LMS_SHA256_M32_H5/LMOTS_SHA256_N32_W4"), b)
}
func BenchmarkGenTree5SHAKEW4(b *testing.B) {
	benchmarkGenTree(NewContextFromName("LMS_SHAKE_M32_H5/LMOTS_SHAKE_N32_W4"), b)
}
func BenchmarkGenTree10SHA256W8(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping genTree 2^10")
	}
	benchmarkGenTree(NewContextFromName("LMS_SHA256_M32_H10/LMOTS_SHA256_N32_W8"), b)
}

func benchmarkGenTree(ctx *Context, b *testing.B) {
	pad := ctx.newScratchPad()
	seed := testSeed(ctx)
	id := testIdentifier()
	mt := newMerkleTree(ctx.p.Height+1, ctx.p.N)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx.genTreeInto(pad, seed, id, mt)
	}
}
