package safebrowsing

import (
	"crypto/sha256"
	"encoding/hex"
)

// fullHash is the raw 32-byte SHA-256 digest of a canonical form.
type fullHash [sha256.Size]byte

// Hex renders h as lowercase hex, matching the storage representation
// used for FullHash.Hash.
func (h fullHash) Hex() string {
	return hex.EncodeToString(h[:])
}

// Prefix returns the first 4 bytes of h, h's lookup key in the chunk
// store.
func (h fullHash) Prefix() [4]byte {
	var p [4]byte
	copy(p[:], h[:4])
	return p
}

// PrefixHex renders h's 4-byte prefix as lowercase hex.
func (h fullHash) PrefixHex() string {
	return hex.EncodeToString(h[:4])
}

func hashString(s string) fullHash {
	return sha256.Sum256([]byte(s))
}

// fullHashes computes the SHA-256 digest of every canonical form
// derived from url.
func fullHashes(url string) []fullHash {
	candidates := GenerateTestCandidates(url)
	out := make([]fullHash, 0, len(candidates))
	seen := make(map[fullHash]bool, len(candidates))
	for _, c := range candidates {
		h := hashString(c)
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// prefixSet returns the distinct 4-byte prefix hex strings of url's full
// hashes, the keys used to probe the chunk store.
func prefixSet(url string) []string {
	hashes := fullHashes(url)
	seen := make(map[string]bool, len(hashes))
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		p := h.PrefixHex()
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
