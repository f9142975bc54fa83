package lms

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash"
	"github.com/edsrzf/mmap-go"
	"github.com/hashicorp/go-multierror"
	"github.com/nightlyone/lockfile"
)

// First bytes of a private key file
const fsKeyMagic = "LMSKEY01"

// Size of the key file without the secret and trailing checksum:
//
//	magic        8 bytes
//	lmsType      4 bytes, big endian
//	otsType      4 bytes, big endian
//	seqNo        8 bytes, big endian
//	borrowed     4 bytes, big endian
//	cacheValid   1 byte, followed by 3 bytes of padding
//	cacheSum     8 bytes, big endian xxhash64 of the cache file
const fsHeaderSize = 40

// PrivateKeyContainer backed by three files:
//
//	path/to/key        contains the secret key and signature sequence number
//	path/to/key.lock   a lockfile
//	path/to/key.cache  the cached Merkle tree
type fsContainer struct {
	flock lockfile.Lockfile // file lock
	path  string            // absolute base path

	params     *Params // nil if not initialized
	secret     []byte
	seqNo      SignatureSeqNo
	borrowed   uint32
	cacheValid bool
	cacheSum   uint64 // xxhash64 of the committed cache

	cacheFile *os.File
	cache     mmap.MMap
	closed    bool
}

// Returns a PrivateKeyContainer backed by the filesystem.
func OpenFSPrivateKeyContainer(path string) (PrivateKeyContainer, Error) {
	var ctr fsContainer
	var err error

	ctr.path, err = filepath.Abs(path)
	if err != nil {
		return nil, wrapErrorf(err, "Could not turn %s into an absolute path", path)
	}

	lockFilePath := ctr.path + ".lock"
	ctr.flock, err = lockfile.New(lockFilePath)
	if err != nil {
		return nil, wrapErrorf(err, "Failed to create lockfile %s", lockFilePath)
	}

	err = ctr.flock.TryLock()
	if err != nil {
		if _, ok := err.(interface {
			Temporary() bool
		}); ok {
			err2 := errorf("%s is locked", path)
			err2.locked = true
			return nil, err2
		}
		return nil, wrapErrorf(err, "Failed to lock %s", lockFilePath)
	}

	_, err = os.Stat(ctr.path)
	if os.IsNotExist(err) {
		return &ctr, nil
	}
	if err != nil {
		ctr.flock.Unlock()
		return nil, wrapErrorf(err, "Could not stat %s", ctr.path)
	}

	if err2 := ctr.readKeyFile(); err2 != nil {
		ctr.flock.Unlock()
		return nil, err2
	}

	return &ctr, nil
}

func (ctr *fsContainer) cachePath() string {
	return ctr.path + ".cache"
}

// Reads and checks the key file.
func (ctr *fsContainer) readKeyFile() Error {
	buf, err := os.ReadFile(ctr.path)
	if err != nil {
		return wrapErrorf(err, "Failed to read %s", ctr.path)
	}
	if len(buf) < fsHeaderSize+8 || string(buf[:8]) != fsKeyMagic {
		return errorf("%s is not an LMS private key", ctr.path)
	}
	body := buf[:len(buf)-8]
	if xxhash.Sum64(body) != binary.BigEndian.Uint64(buf[len(buf)-8:]) {
		return errorf("%s is corrupted: checksum mismatch", ctr.path)
	}

	params, err2 := ParamsFromTypecodes(
		binary.BigEndian.Uint32(buf[8:12]),
		binary.BigEndian.Uint32(buf[12:16]))
	if err2 != nil {
		return err2
	}
	if len(body) != fsHeaderSize+params.SecretSize() {
		return errorf("%s has the wrong size", ctr.path)
	}

	ctr.params = params
	ctr.seqNo = SignatureSeqNo(binary.BigEndian.Uint64(buf[16:24]))
	ctr.borrowed = binary.BigEndian.Uint32(buf[24:28])
	ctr.cacheValid = buf[28] == 1
	ctr.cacheSum = binary.BigEndian.Uint64(buf[32:40])
	ctr.secret = append([]byte(nil), body[fsHeaderSize:]...)
	return nil
}

// Atomically replaces the key file by one with the current state.
func (ctr *fsContainer) writeKeyFile() Error {
	lmsType, otsType, _ := ctr.params.Typecodes()
	buf := make([]byte, fsHeaderSize+len(ctr.secret)+8)
	copy(buf, fsKeyMagic)
	binary.BigEndian.PutUint32(buf[8:12], lmsType)
	binary.BigEndian.PutUint32(buf[12:16], otsType)
	binary.BigEndian.PutUint64(buf[16:24], uint64(ctr.seqNo))
	binary.BigEndian.PutUint32(buf[24:28], ctr.borrowed)
	if ctr.cacheValid {
		buf[28] = 1
	}
	binary.BigEndian.PutUint64(buf[32:40], ctr.cacheSum)
	copy(buf[fsHeaderSize:], ctr.secret)
	binary.BigEndian.PutUint64(buf[len(buf)-8:], xxhash.Sum64(buf[:len(buf)-8]))

	tmpPath := ctr.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return wrapErrorf(err, "Failed to create %s", tmpPath)
	}
	_, werr := f.Write(buf)
	serr := f.Sync()
	cerr := f.Close()
	if werr != nil {
		return wrapErrorf(werr, "Failed to write %s", tmpPath)
	}
	if serr != nil {
		return wrapErrorf(serr, "Failed to fsync %s", tmpPath)
	}
	if cerr != nil {
		return wrapErrorf(cerr, "Failed to close %s", tmpPath)
	}
	if err = os.Rename(tmpPath, ctr.path); err != nil {
		return wrapErrorf(err, "Failed to move %s to %s", tmpPath, ctr.path)
	}
	return syncDir(filepath.Dir(ctr.path))
}

// Flushes the directory entries of dir, such as a rename, to disk.
func syncDir(dir string) Error {
	d, err := os.Open(dir)
	if err != nil {
		return wrapErrorf(err, "Failed to open %s", dir)
	}
	serr := d.Sync()
	cerr := d.Close()
	if serr != nil {
		return wrapErrorf(serr, "Failed to fsync %s", dir)
	}
	if cerr != nil {
		return wrapErrorf(cerr, "Failed to close %s", dir)
	}
	return nil
}

// Unmaps and closes the cache file, if it is open.
func (ctr *fsContainer) closeCache() error {
	var result *multierror.Error
	if ctr.cache != nil {
		result = multierror.Append(result, ctr.cache.Unmap())
		ctr.cache = nil
	}
	if ctr.cacheFile != nil {
		result = multierror.Append(result, ctr.cacheFile.Close())
		ctr.cacheFile = nil
	}
	return result.ErrorOrNil()
}

func (ctr *fsContainer) Reset(secret []byte, params Params) Error {
	if ctr.closed {
		return errorf("Container is closed")
	}
	if err := ctr.closeCache(); err != nil {
		return wrapErrorf(err, "Failed to close cache")
	}
	err := os.Remove(ctr.cachePath())
	if err != nil && !os.IsNotExist(err) {
		return wrapErrorf(err, "Failed to remove %s", ctr.cachePath())
	}

	ctr.params = &params
	ctr.secret = append([]byte(nil), secret...)
	ctr.seqNo = 0
	ctr.borrowed = 0
	ctr.cacheValid = false
	ctr.cacheSum = 0
	return ctr.writeKeyFile()
}

func (ctr *fsContainer) GetPrivateKey() ([]byte, Error) {
	if ctr.params == nil {
		return nil, errorf("Container is not initialized")
	}
	return ctr.secret, nil
}

func (ctr *fsContainer) Initialized() *Params {
	return ctr.params
}

func (ctr *fsContainer) GetCache() ([]byte, bool, Error) {
	if ctr.params == nil {
		return nil, false, errorf("Container is not initialized")
	}
	if ctr.cache != nil {
		return ctr.cache, ctr.cacheValid, nil
	}

	size := int64(ctr.params.TreeSize())
	f, err := os.OpenFile(ctr.cachePath(), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, false, wrapErrorf(err, "Failed to open %s", ctr.cachePath())
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, wrapErrorf(err, "Failed to stat %s", ctr.cachePath())
	}
	if fi.Size() != size {
		ctr.cacheValid = false
		if err = f.Truncate(size); err != nil {
			f.Close()
			return nil, false, wrapErrorf(err, "Failed to resize %s",
				ctr.cachePath())
		}
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, false, wrapErrorf(err, "Failed to mmap %s", ctr.cachePath())
	}
	ctr.cacheFile = f
	ctr.cache = m

	if ctr.cacheValid && xxhash.Sum64(m) != ctr.cacheSum {
		log.Logf("Cached tree %s does not match its checksum", ctr.cachePath())
		ctr.cacheValid = false
	}
	return ctr.cache, ctr.cacheValid, nil
}

func (ctr *fsContainer) CommitCache() Error {
	if ctr.cache == nil {
		return errorf("No cache to commit")
	}
	if err := ctr.cache.Flush(); err != nil {
		return wrapErrorf(err, "Failed to flush %s", ctr.cachePath())
	}
	ctr.cacheSum = xxhash.Sum64(ctr.cache)
	ctr.cacheValid = true
	return ctr.writeKeyFile()
}

func (ctr *fsContainer) BorrowSeqNos(amount uint32) (SignatureSeqNo, Error) {
	if ctr.params == nil {
		return 0, errorf("Container is not initialized")
	}
	ret := ctr.seqNo
	ctr.seqNo += SignatureSeqNo(amount)
	ctr.borrowed += amount
	if err := ctr.writeKeyFile(); err != nil {
		ctr.seqNo = ret
		ctr.borrowed -= amount
		return 0, err
	}
	return ret, nil
}

func (ctr *fsContainer) SetSeqNo(seqNo SignatureSeqNo) Error {
	if ctr.params == nil {
		return errorf("Container is not initialized")
	}
	oldSeqNo, oldBorrowed := ctr.seqNo, ctr.borrowed
	ctr.seqNo = seqNo
	ctr.borrowed = 0
	if err := ctr.writeKeyFile(); err != nil {
		ctr.seqNo, ctr.borrowed = oldSeqNo, oldBorrowed
		return err
	}
	return nil
}

func (ctr *fsContainer) GetSeqNo() (SignatureSeqNo, uint32, Error) {
	if ctr.params == nil {
		return 0, 0, errorf("Container is not initialized")
	}
	return ctr.seqNo, ctr.borrowed, nil
}

func (ctr *fsContainer) Close() Error {
	if ctr.closed {
		return nil
	}
	ctr.closed = true

	var result *multierror.Error
	if err := ctr.closeCache(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := ctr.flock.Unlock(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return wrapErrorf(err, "Failed to close %s", ctr.path)
	}
	return nil
}
