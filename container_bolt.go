package lms

import (
	"encoding/binary"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

var (
	boltBucket      = []byte("lms")
	boltKeyParams   = []byte("params")
	boltKeySecret   = []byte("secret")
	boltKeySeqNo    = []byte("seqno")
	boltKeyBorrowed = []byte("borrowed")
	boltKeyTree     = []byte("tree")
)

// How long to wait for the lock on the database.
const boltLockTimeout = 1 * time.Second

// PrivateKeyContainer backed by a bbolt database.  The secret, the
// sequence number and the Merkle tree are stored in a single bucket.
// Every update of the sequence number is its own transaction.
type boltContainer struct {
	db   *bolt.DB
	path string

	params     *Params
	secret     []byte
	seqNo      SignatureSeqNo
	borrowed   uint32
	cache      []byte
	cacheValid bool
}

// Returns a PrivateKeyContainer backed by the bbolt database at path.
// The database is locked while the container is open.
func OpenBoltPrivateKeyContainer(path string) (PrivateKeyContainer, Error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: boltLockTimeout,
	})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			err2 := errorf("%s is locked", path)
			err2.locked = true
			return nil, err2
		}
		return nil, wrapErrorf(err, "Failed to open %s", path)
	}

	ctr := &boltContainer{db: db, path: path}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return ctr.load(b)
	})
	if err != nil {
		_ = db.Close()
		return nil, wrapErrorf(err, "Failed to read %s", path)
	}
	return ctr, nil
}

// Loads the key from the bucket, if there is one.
func (ctr *boltContainer) load(b *bolt.Bucket) error {
	rawParams := b.Get(boltKeyParams)
	if rawParams == nil {
		return nil
	}

	var params Params
	if err := params.UnmarshalBinary(rawParams); err != nil {
		return err
	}
	secret := b.Get(boltKeySecret)
	seqNo := b.Get(boltKeySeqNo)
	borrowed := b.Get(boltKeyBorrowed)
	if len(secret) != params.SecretSize() || len(seqNo) != 8 ||
		len(borrowed) != 4 {
		return errorf("stored key is corrupted")
	}

	ctr.params = &params
	ctr.secret = append([]byte(nil), secret...)
	ctr.seqNo = SignatureSeqNo(binary.BigEndian.Uint64(seqNo))
	ctr.borrowed = binary.BigEndian.Uint32(borrowed)

	// The tree is only stored once it is complete.
	if tree := b.Get(boltKeyTree); len(tree) == params.TreeSize() {
		ctr.cache = append([]byte(nil), tree...)
		ctr.cacheValid = true
	}
	return nil
}

// Stores the sequence number and the number of borrowed signatures.
func (ctr *boltContainer) putSeqNo(seqNo SignatureSeqNo, borrowed uint32) Error {
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(seqNo))
	binary.BigEndian.PutUint32(buf[8:], borrowed)
	err := ctr.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if err := b.Put(boltKeySeqNo, buf[:8]); err != nil {
			return err
		}
		return b.Put(boltKeyBorrowed, buf[8:])
	})
	if err != nil {
		return wrapErrorf(err, "Failed to store sequence number in %s", ctr.path)
	}
	ctr.seqNo = seqNo
	ctr.borrowed = borrowed
	return nil
}

func (ctr *boltContainer) Reset(secret []byte, params Params) Error {
	if ctr.db == nil {
		return errorf("Container is closed")
	}
	rawParams, err := params.MarshalBinary()
	if err != nil {
		return wrapErrorf(err, "Failed to encode parameters")
	}

	var zero [12]byte
	err = ctr.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if err := b.Delete(boltKeyTree); err != nil {
			return err
		}
		if err := b.Put(boltKeyParams, rawParams); err != nil {
			return err
		}
		if err := b.Put(boltKeySecret, secret); err != nil {
			return err
		}
		if err := b.Put(boltKeySeqNo, zero[:8]); err != nil {
			return err
		}
		return b.Put(boltKeyBorrowed, zero[8:])
	})
	if err != nil {
		return wrapErrorf(err, "Failed to store key in %s", ctr.path)
	}

	ctr.params = &params
	ctr.secret = append([]byte(nil), secret...)
	ctr.seqNo = 0
	ctr.borrowed = 0
	ctr.cache = nil
	ctr.cacheValid = false
	return nil
}

func (ctr *boltContainer) GetPrivateKey() ([]byte, Error) {
	if ctr.params == nil {
		return nil, errorf("Container is not initialized")
	}
	return ctr.secret, nil
}

func (ctr *boltContainer) Initialized() *Params {
	return ctr.params
}

func (ctr *boltContainer) GetCache() ([]byte, bool, Error) {
	if ctr.params == nil {
		return nil, false, errorf("Container is not initialized")
	}
	if ctr.cache == nil {
		ctr.cache = make([]byte, ctr.params.TreeSize())
	}
	return ctr.cache, ctr.cacheValid, nil
}

func (ctr *boltContainer) CommitCache() Error {
	if ctr.cache == nil {
		return errorf("No cache to commit")
	}
	if int64(len(ctr.cache)) > bolt.MaxValueSize {
		log.Logf("Tree of %d bytes is too large to store in %s",
			len(ctr.cache), ctr.path)
		ctr.cacheValid = true
		return nil
	}
	err := ctr.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(boltKeyTree, ctr.cache)
	})
	if err != nil {
		return wrapErrorf(err, "Failed to store tree in %s", ctr.path)
	}
	ctr.cacheValid = true
	return nil
}

func (ctr *boltContainer) BorrowSeqNos(amount uint32) (SignatureSeqNo, Error) {
	if ctr.params == nil {
		return 0, errorf("Container is not initialized")
	}
	ret := ctr.seqNo
	if err := ctr.putSeqNo(ret+SignatureSeqNo(amount),
		ctr.borrowed+amount); err != nil {
		return 0, err
	}
	return ret, nil
}

func (ctr *boltContainer) SetSeqNo(seqNo SignatureSeqNo) Error {
	if ctr.params == nil {
		return errorf("Container is not initialized")
	}
	return ctr.putSeqNo(seqNo, 0)
}

func (ctr *boltContainer) GetSeqNo() (SignatureSeqNo, uint32, Error) {
	if ctr.params == nil {
		return 0, 0, errorf("Container is not initialized")
	}
	return ctr.seqNo, ctr.borrowed, nil
}

func (ctr *boltContainer) Close() Error {
	if ctr.db == nil {
		return nil
	}
	err := ctr.db.Close()
	ctr.db = nil
	if err != nil {
		return wrapErrorf(err, "Failed to close %s", ctr.path)
	}
	return nil
}
