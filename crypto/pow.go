package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// HourBucket binds a proof-of-work attempt to a one-hour window, per spec
// §4.5: floor(unix_seconds / 3600).
func HourBucket(unixSeconds int64) uint64 {
	return uint64(unixSeconds) / 3600
}

// PowPrefix builds the fixed portion of the proof-of-work preimage:
// miner_address || batch_id || events_count || merkle_root || hour_bucket.
// The nonce is appended separately by PowHash since it varies per attempt.
func PowPrefix(minerAddress, batchID string, eventsCount uint64, merkleRoot [32]byte, hourBucket uint64) []byte {
	buf := make([]byte, 0, len(minerAddress)+len(batchID)+8+32+8)
	buf = append(buf, []byte(minerAddress)...)
	buf = append(buf, []byte(batchID)...)
	buf = appendUint64(buf, eventsCount)
	buf = append(buf, merkleRoot[:]...)
	buf = appendUint64(buf, hourBucket)
	return buf
}

// PowHash computes H(prefix || nonce) for a candidate nonce.
func PowHash(prefix []byte, nonce uint64) [32]byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], nonce)
	return SHA256(buf)
}

// MeetsDifficulty reports whether the hex representation of hash begins
// with at least `difficulty` leading '0' characters.
func MeetsDifficulty(hash [32]byte, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	hexStr := hex.EncodeToString(hash[:])
	if difficulty > len(hexStr) {
		return false
	}
	return strings.Count(hexStr[:difficulty], "0") == difficulty
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
