// Package contentid provides content fingerprints and the stable index ids derived from them.
package contentid

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// blockSize is the read size used when hashing streams.
const blockSize = 8192

// idMask clears the sign bit so ids fit signed 64-bit index keys.
const idMask = 0x7FFFFFFFFFFFFFFF

// HashString returns the hex MD5 digest of text.
func HashString(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the hex MD5 digest of b.
func HashBytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// HashReader hashes r in fixed-size blocks without buffering the whole stream.
func HashReader(r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex MD5 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return HashReader(f)
}

// DeriveID maps a hex digest to a non-negative 63-bit id: the low 64 bits of the
// digest's numeric value with the sign bit cleared. Same hash, same id, in every process.
// Input that is not hex is fingerprinted first so the function stays total.
func DeriveID(hash string) int64 {
	tail := hash
	if len(tail) > 16 {
		tail = tail[len(tail)-16:]
	}
	raw, err := hex.DecodeString(leftPad(tail, 16))
	if err != nil {
		sum := md5.Sum([]byte(hash))
		raw = sum[8:]
	}
	return int64(binary.BigEndian.Uint64(raw) & idMask)
}

// ChunkID is DeriveID(HashString(text)).
func ChunkID(text string) (hash string, id int64) {
	hash = HashString(text)
	return hash, DeriveID(hash)
}

func leftPad(s string, n int) string {
	for len(s) < n {
		s = "0" + s
	}
	return s
}
