package lms

import (
	"bytes"
	"errors"
	"io/ioutil"
	"os"
	"testing"
)

func testContainerSecret(params *Params) []byte {
	secret := make([]byte, params.SecretSize())
	for i := 0; i < len(secret); i++ {
		secret[i] = byte(i)
	}
	return secret
}

func TestFSContainer(t *testing.T) {
	SetLogger(t)
	defer SetLogger(nil)

	dir, err := ioutil.TempDir("", "go-lms-tests")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	ctr, err := OpenFSPrivateKeyContainer(dir + "/key")
	if err != nil {
		t.Fatalf("OpenFSPrivateKeyContainer: %v", err)
	}

	if ctr.Initialized() != nil {
		t.Fatalf("Container should not be initialized at this point")
	}

	params := ParamsFromName("LMS_SHA256_M32_H5/LMOTS_SHA256_N32_W4")
	secret := testContainerSecret(params)
	if err = ctr.Reset(secret, *params); err != nil {
		t.Fatalf("Reset(): %v", err)
	}

	buf, exists, err := ctr.GetCache()
	if err != nil {
		t.Fatalf("GetCache(): %v", err)
	}
	if exists {
		t.Fatalf("Cache should not exist after Reset()")
	}
	if len(buf) != params.TreeSize() {
		t.Fatalf("Cache has size %d", len(buf))
	}
	for i := 0; i < len(buf); i++ {
		buf[i] = byte(i * 3)
	}
	expectedCache := append([]byte(nil), buf...)
	if err = ctr.CommitCache(); err != nil {
		t.Fatalf("CommitCache(): %v", err)
	}

	seqNo, err := ctr.BorrowSeqNos(10)
	if err != nil || seqNo != 0 {
		t.Fatalf("BorrowSeqNos(10) = %d, %v", seqNo, err)
	}
	seqNo, lostSigs, err := ctr.GetSeqNo()
	if err != nil || seqNo != 10 || lostSigs != 10 {
		t.Fatalf("GetSeqNo() = %d, %d, %v", seqNo, lostSigs, err)
	}
	if err = ctr.SetSeqNo(4); err != nil {
		t.Fatalf("SetSeqNo(): %v", err)
	}
	if err = ctr.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	ctr, err = OpenFSPrivateKeyContainer(dir + "/key")
	if err != nil {
		t.Fatalf("OpenFSPrivateKeyContainer: %v", err)
	}
	params2 := ctr.Initialized()
	if params2 == nil || *params2 != *params {
		t.Fatalf("Container has parameters %v", params2)
	}
	secret2, err := ctr.GetPrivateKey()
	if err != nil || !bytes.Equal(secret, secret2) {
		t.Fatalf("GetPrivateKey() = %x, %v", secret2, err)
	}
	seqNo, lostSigs, err = ctr.GetSeqNo()
	if err != nil || seqNo != 4 || lostSigs != 0 {
		t.Fatalf("GetSeqNo() = %d, %d, %v", seqNo, lostSigs, err)
	}
	buf, exists, err = ctr.GetCache()
	if err != nil {
		t.Fatalf("GetCache(): %v", err)
	}
	if !exists || !bytes.Equal(buf, expectedCache) {
		t.Fatalf("Cache was not stored")
	}
	if err = ctr.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	// Damage the cache
	f, err := os.OpenFile(dir+"/key.cache", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile(): %v", err)
	}
	if _, err = f.WriteAt([]byte{0xff, 0xff}, 100); err != nil {
		t.Fatalf("WriteAt(): %v", err)
	}
	f.Close()

	ctr, err = OpenFSPrivateKeyContainer(dir + "/key")
	if err != nil {
		t.Fatalf("OpenFSPrivateKeyContainer: %v", err)
	}
	if _, exists, err = ctr.GetCache(); err != nil || exists {
		t.Fatalf("Damaged cache is used: %v", err)
	}
	if err = ctr.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
}

func TestFSContainerCorruptKeyFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "go-lms-tests")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	ctr, err := OpenFSPrivateKeyContainer(dir + "/key")
	if err != nil {
		t.Fatalf("OpenFSPrivateKeyContainer: %v", err)
	}
	params := ParamsFromName("LMS_SHAKE_M24_H10/LMOTS_SHAKE_N24_W2")
	if err = ctr.Reset(testContainerSecret(params), *params); err != nil {
		t.Fatalf("Reset(): %v", err)
	}
	if err = ctr.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	orig, err := ioutil.ReadFile(dir + "/key")
	if err != nil {
		t.Fatalf("ReadFile(): %v", err)
	}
	for _, tc := range []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"truncated", orig[:len(orig)-1]},
		{"flipped bit", append(append(append([]byte(nil), orig[:50]...),
			orig[50]^1), orig[51:]...)},
		{"wrong magic", append([]byte("NOTAKEY!"), orig[8:]...)},
	} {
		if err = ioutil.WriteFile(dir+"/key", tc.buf, 0o600); err != nil {
			t.Fatalf("WriteFile(): %v", err)
		}
		ctr, err := OpenFSPrivateKeyContainer(dir + "/key")
		if err == nil {
			ctr.Close()
			t.Fatalf("%s key file was accepted", tc.name)
		}
	}

	// The lock is released after a failed open
	if err = ioutil.WriteFile(dir+"/key", orig, 0o600); err != nil {
		t.Fatalf("WriteFile(): %v", err)
	}
	ctr, err = OpenFSPrivateKeyContainer(dir + "/key")
	if err != nil {
		t.Fatalf("OpenFSPrivateKeyContainer: %v", err)
	}
	if params2 := ctr.Initialized(); params2 == nil || *params2 != *params {
		t.Fatalf("Container has parameters %v", params2)
	}
	ctr.Close()
}

func TestLoadPrivateKey(t *testing.T) {
	SetLogger(t)
	defer SetLogger(nil)

	dir, err := ioutil.TempDir("", "go-lms-tests")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	ctx := NewContextFromName("LMS_SHA256_M24_H5/LMOTS_SHA256_N24_W4")
	sk, pk, err := ctx.GenerateKeyPair(dir + "/key")
	if err != nil {
		t.Fatalf("GenerateKeyPair(): %v", err)
	}
	for i := 0; i < 3; i++ {
		testSignThenVerify(sk, pk, t)
	}
	if err = sk.Close(); err != nil {
		t.Fatalf("sk.Close(): %v", err)
	}

	sk, pk2, lostSigs, err := LoadPrivateKey(dir + "/key")
	if err != nil {
		t.Fatalf("LoadPrivateKey(): %v", err)
	}
	if lostSigs != 0 {
		t.Fatalf("%d signatures lost after proper Close()", lostSigs)
	}
	if sk.SeqNo() != 3 {
		t.Fatalf("Loaded key is at %d", sk.SeqNo())
	}
	pkBytes, _ := pk.MarshalBinary()
	pk2Bytes, _ := pk2.MarshalBinary()
	if !bytes.Equal(pkBytes, pk2Bytes) {
		t.Fatalf("Loaded key has a different public key")
	}
	testSignThenVerify(sk, pk, t)

	// Borrow signatures and close the container without giving them back,
	// as would happen if the process were killed.
	if _, err = sk.BorrowExactly(5); err != nil {
		t.Fatalf("BorrowExactly(): %v", err)
	}
	testSignThenVerify(sk, pk, t)
	if err = sk.ctr.Close(); err != nil {
		t.Fatalf("ctr.Close(): %v", err)
	}

	sk, _, lostSigs, err = LoadPrivateKey(dir + "/key")
	if err != nil {
		t.Fatalf("LoadPrivateKey(): %v", err)
	}
	if lostSigs != 5 {
		t.Fatalf("%d signatures lost instead of 5", lostSigs)
	}
	if sk.SeqNo() != 9 {
		t.Fatalf("Loaded key is at %d instead of after borrowed signatures",
			sk.SeqNo())
	}
	msg := []byte("test message")
	sig, err := sk.Sign(msg)
	if err != nil {
		t.Fatalf("Sign(): %v", err)
	}
	if sig.SeqNo() != 9 {
		t.Fatalf("Signature after loss uses leaf %d", sig.SeqNo())
	}
	if ok, err := pk.Verify(sig, msg); !ok {
		t.Fatalf("Verify(): %v", err)
	}
	if err = sk.Close(); err != nil {
		t.Fatalf("sk.Close(): %v", err)
	}

	sk, _, lostSigs, err = LoadPrivateKey(dir + "/key")
	if err != nil {
		t.Fatalf("LoadPrivateKey(): %v", err)
	}
	defer sk.Close()
	if lostSigs != 0 {
		t.Fatalf("%d signatures lost after SetSeqNo()", lostSigs)
	}
}

func TestLoadPrivateKeyDamagedCache(t *testing.T) {
	SetLogger(t)
	defer SetLogger(nil)

	dir, err := ioutil.TempDir("", "go-lms-tests")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	ctx := NewContextFromName("LMS_SHAKE_M32_H5/LMOTS_SHAKE_N32_W8")
	sk, pk, err := ctx.GenerateKeyPair(dir + "/key")
	if err != nil {
		t.Fatalf("GenerateKeyPair(): %v", err)
	}
	if err = sk.Close(); err != nil {
		t.Fatalf("sk.Close(): %v", err)
	}

	// Overwrite part of the root
	cache, err := ioutil.ReadFile(dir + "/key.cache")
	if err != nil {
		t.Fatalf("ReadFile(): %v", err)
	}
	for i := len(cache) - 8; i < len(cache); i++ {
		cache[i] = 0
	}
	if err = ioutil.WriteFile(dir+"/key.cache", cache, 0o600); err != nil {
		t.Fatalf("WriteFile(): %v", err)
	}

	sk, pk2, _, err := LoadPrivateKey(dir + "/key")
	if err != nil {
		t.Fatalf("LoadPrivateKey(): %v", err)
	}
	defer sk.Close()
	pkBytes, _ := pk.MarshalBinary()
	pk2Bytes, _ := pk2.MarshalBinary()
	if !bytes.Equal(pkBytes, pk2Bytes) {
		t.Fatalf("Damaged cache changed the public key")
	}
	testSignThenVerify(sk, pk, t)
}

func TestMemoryContainer(t *testing.T) {
	ctr := NewMemoryPrivateKeyContainer()
	if ctr.Initialized() != nil {
		t.Fatalf("Container should not be initialized at this point")
	}
	if _, _, err := ctr.GetCache(); err == nil {
		t.Fatalf("GetCache() on uninitialized container succeeded")
	}

	params := ParamsFromName("LMS_SHA256_M32_H10/LMOTS_SHA256_N32_W8")
	if err := ctr.Reset(testContainerSecret(params), *params); err != nil {
		t.Fatalf("Reset(): %v", err)
	}
	buf, exists, err := ctr.GetCache()
	if err != nil || exists || len(buf) != params.TreeSize() {
		t.Fatalf("GetCache() = %d bytes, %v, %v", len(buf), exists, err)
	}
	if err = ctr.CommitCache(); err != nil {
		t.Fatalf("CommitCache(): %v", err)
	}
	if _, exists, _ = ctr.GetCache(); !exists {
		t.Fatalf("Committed cache does not exist")
	}

	if _, err = ctr.BorrowSeqNos(3); err != nil {
		t.Fatalf("BorrowSeqNos(): %v", err)
	}
	seqNo, err := ctr.BorrowSeqNos(4)
	if err != nil || seqNo != 3 {
		t.Fatalf("BorrowSeqNos(4) = %d, %v", seqNo, err)
	}
	seqNo, lostSigs, err := ctr.GetSeqNo()
	if err != nil || seqNo != 7 || lostSigs != 7 {
		t.Fatalf("GetSeqNo() = %d, %d, %v", seqNo, lostSigs, err)
	}
	if err = ctr.SetSeqNo(5); err != nil {
		t.Fatalf("SetSeqNo(): %v", err)
	}
	seqNo, lostSigs, _ = ctr.GetSeqNo()
	if seqNo != 5 || lostSigs != 0 {
		t.Fatalf("GetSeqNo() = %d, %d", seqNo, lostSigs)
	}

	if err = ctr.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
	if err = ctr.Reset(testContainerSecret(params), *params); err == nil {
		t.Fatalf("Reset() on closed container succeeded")
	}
}

func TestLoadExhaustedPrivateKey(t *testing.T) {
	SetLogger(t)
	defer SetLogger(nil)

	dir, err := ioutil.TempDir("", "go-lms-tests")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	ctx := NewContextFromName("LMS_SHA256_M32_H5/LMOTS_SHA256_N32_W8")
	sk, pk, err := ctx.GenerateKeyPair(dir + "/key")
	if err != nil {
		t.Fatalf("GenerateKeyPair(): %v", err)
	}
	msg := []byte("test message")
	var sig *Signature
	for i := 0; i < 32; i++ {
		if sig, err = sk.Sign(msg); err != nil {
			t.Fatalf("Sign(): %v", err)
		}
	}
	if err = sk.Close(); err != nil {
		t.Fatalf("sk.Close(): %v", err)
	}

	// The public key outlives the private key and its cache.
	pkBytes, _ := pk.MarshalBinary()
	if len(pkBytes) != int(ctx.PublicKeySize()) {
		t.Fatalf("Public key has length %d", len(pkBytes))
	}
	if ok, err := pk.Verify(sig, msg); !ok {
		t.Fatalf("Verify() after Close(): %v", err)
	}

	sk, pk2, lostSigs, err := LoadPrivateKey(dir + "/key")
	if err != nil {
		t.Fatalf("LoadPrivateKey(): %v", err)
	}
	defer sk.Close()
	if lostSigs != 0 {
		t.Fatalf("%d signatures lost", lostSigs)
	}
	if !sk.Exhausted() || sk.Remaining() != 0 {
		t.Fatalf("Loaded key is not exhausted")
	}
	for i := 0; i < 2; i++ {
		sig, err := sk.Sign(msg)
		if sig != nil || !errors.Is(err, ErrKeyExhausted) {
			t.Fatalf("Sign() on loaded exhausted key returned %v", err)
		}
	}
	pk2Bytes, _ := pk2.MarshalBinary()
	pk3Bytes, _ := sk.PublicKey().MarshalBinary()
	if !bytes.Equal(pkBytes, pk2Bytes) || !bytes.Equal(pkBytes, pk3Bytes) {
		t.Fatalf("Exhausted key has a different public key")
	}
}

func TestSyncDir(t *testing.T) {
	dir, err := ioutil.TempDir("", "go-lms-tests")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	if err := syncDir(dir); err != nil {
		t.Fatalf("syncDir(): %v", err)
	}
	if err := syncDir(dir + "/missing"); err == nil {
		t.Fatalf("syncDir() of missing directory succeeded")
	}
}
