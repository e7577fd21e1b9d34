package common

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

func Uint64ToBytes(val uint64) []byte {
	bytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(bytes, val)
	return bytes
}

func Keccak256(data ...[]byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hash.Write(d)
	}
	h := hash.Sum(nil)
	return BytesToHash(h)
}

func IsNilHash(h Hash) bool {
	return h == Hash{}
}
