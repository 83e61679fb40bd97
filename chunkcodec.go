package safebrowsing

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// directiveKind distinguishes the lines of an update-response header.
type directiveKind int

const (
	directiveWait directiveKind = iota
	directiveList
	directiveRedirect
	directiveDeleteAdd
	directiveDeleteSub
	directiveReset
)

// directive is a single parsed token from an update-response header.
type directive struct {
	kind  directiveKind
	list  string // current list in effect when this directive was parsed
	value string
}

// parseUpdateHeader splits an update-response body's ASCII header into its
// directives, threading the "current list" named by the last i: token
// through every directive that follows it.
func parseUpdateHeader(body string) ([]directive, error) {
	var out []directive
	currentList := ""
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, tok := range strings.Fields(line) {
			switch {
			case strings.HasPrefix(tok, "n:"):
				out = append(out, directive{kind: directiveWait, value: tok[2:]})
			case strings.HasPrefix(tok, "i:"):
				currentList = tok[2:]
				out = append(out, directive{kind: directiveList, list: currentList, value: currentList})
			case strings.HasPrefix(tok, "u:"):
				out = append(out, directive{kind: directiveRedirect, list: currentList, value: tok[2:]})
			case strings.HasPrefix(tok, "ad:"):
				out = append(out, directive{kind: directiveDeleteAdd, list: currentList, value: tok[3:]})
			case strings.HasPrefix(tok, "sd:"):
				out = append(out, directive{kind: directiveDeleteSub, list: currentList, value: tok[3:]})
			case tok == "r:pleasereset":
				out = append(out, directive{kind: directiveReset, list: currentList})
			default:
				return nil, errors.Errorf("chunkcodec: unrecognized update header token %q", tok)
			}
		}
	}
	return out, nil
}

// Chunk kinds and prefix widths for the binary chunk payload.
const (
	chunkKindAdd = 0
	chunkKindSub = 1

	prefixWidth4Byte  = 0
	prefixWidth32Byte = 1
)

// binaryChunk is one decoded record from a redirect payload.
type binaryChunk struct {
	ChunkNumber uint32
	Kind        int // chunkKindAdd or chunkKindSub
	Prefixes    []string // lowercase hex, 8 or 64 chars each
	AddNumbers  []uint32 // only populated for Kind == chunkKindSub
}

// readBinaryChunks decodes a concatenation of u32_be-length-prefixed chunk
// records, tolerating unknown trailing fields within a record but failing
// fast on an unrecognized chunk type.
func readBinaryChunks(r io.Reader) ([]binaryChunk, error) {
	br := bufio.NewReader(r)
	var out []binaryChunk
	for {
		var length uint32
		if err := binary.Read(br, binary.BigEndian, &length); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, errors.Wrap(err, "chunkcodec: reading record length")
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, errors.Wrap(err, "chunkcodec: reading record body")
		}
		c, err := decodeChunkRecord(body)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
}

// decodeChunkRecord decodes one ChunkData record: a 4-byte big-endian
// chunk number, a chunk-type byte, a prefix-width byte, a 4-byte
// big-endian hash-block length, the hash block itself, and — for SUB
// chunks only — a 4-byte big-endian add-number count followed by that
// many 4-byte big-endian add numbers.
func decodeChunkRecord(body []byte) (binaryChunk, error) {
	var c binaryChunk
	if len(body) < 10 {
		return c, errors.New("chunkcodec: record too short")
	}
	c.ChunkNumber = binary.BigEndian.Uint32(body[0:4])
	switch body[4] {
	case chunkKindAdd, chunkKindSub:
		c.Kind = int(body[4])
	default:
		return c, errors.Wrapf(ErrUnsupportedChunkType, "chunkcodec: chunk type %d", body[4])
	}
	width := 4
	switch body[5] {
	case prefixWidth4Byte:
		width = 4
	case prefixWidth32Byte:
		width = 32
	default:
		return c, errors.Errorf("chunkcodec: unrecognized prefix width %d", body[5])
	}
	hashLen := binary.BigEndian.Uint32(body[6:10])
	pos := 10
	if pos+int(hashLen) > len(body) {
		return c, errors.New("chunkcodec: hash block overruns record")
	}
	hashes := body[pos : pos+int(hashLen)]
	pos += int(hashLen)
	if int(hashLen)%width != 0 {
		return c, errors.Errorf("chunkcodec: hash block length %d not a multiple of width %d", hashLen, width)
	}
	n := int(hashLen) / width
	c.Prefixes = make([]string, 0, n)
	for i := 0; i < n; i++ {
		c.Prefixes = append(c.Prefixes, hex.EncodeToString(hashes[i*width:(i+1)*width]))
	}

	if c.Kind != chunkKindSub {
		return c, nil
	}
	if pos+4 > len(body) {
		return c, errors.New("chunkcodec: missing add-number count")
	}
	addCount := binary.BigEndian.Uint32(body[pos : pos+4])
	pos += 4
	if int(addCount) != n {
		return c, errors.Errorf("chunkcodec: %d add numbers for %d sub prefixes", addCount, n)
	}
	c.AddNumbers = make([]uint32, 0, addCount)
	for i := 0; i < int(addCount); i++ {
		if pos+4 > len(body) {
			return c, errors.New("chunkcodec: add-number block truncated")
		}
		c.AddNumbers = append(c.AddNumbers, binary.BigEndian.Uint32(body[pos:pos+4]))
		pos += 4
	}
	return c, nil
}

// fullHashGroup is one LIST block of a parsed full-hash response.
type fullHashGroup struct {
	List   string
	Hashes []string // lowercase hex, HashSize*2 chars each
}

// parseFullHashResponse decodes a mixed ASCII/binary full-hash response
// body: a leading CACHELIFETIME line (possibly the entire body, meaning
// "no match"), followed by zero or more LIST:HASHSIZE:NUMRESPONSES groups.
// Metadata blocks (the ":m" variant) are recognized and skipped — this
// client has no use for per-hash metadata today.
func parseFullHashResponse(body []byte) (cacheLifetime time.Duration, groups []fullHashGroup, err error) {
	nl := indexByte(body, '\n')
	if nl < 0 {
		return 0, nil, errors.New("chunkcodec: full-hash response missing CACHELIFETIME line")
	}
	seconds, err := parseUint(string(body[:nl]))
	if err != nil {
		return 0, nil, errors.Wrap(err, "chunkcodec: bad CACHELIFETIME")
	}
	cacheLifetime = time.Duration(seconds) * time.Second
	rest := body[nl+1:]

	for len(rest) > 0 {
		lineEnd := indexByte(rest, '\n')
		if lineEnd < 0 {
			return 0, nil, errors.New("chunkcodec: truncated full-hash group header")
		}
		header := string(rest[:lineEnd])
		rest = rest[lineEnd+1:]

		hasMeta := strings.HasSuffix(header, ":m")
		if hasMeta {
			header = strings.TrimSuffix(header, ":m")
		}
		parts := strings.SplitN(header, ":", 3)
		if len(parts) != 3 {
			return 0, nil, errors.Errorf("chunkcodec: malformed full-hash group header %q", header)
		}
		list := parts[0]
		hashSize, err := parseUint(parts[1])
		if err != nil {
			return 0, nil, errors.Wrap(err, "chunkcodec: bad HASHSIZE")
		}
		numResponses, err := parseUint(parts[2])
		if err != nil {
			return 0, nil, errors.Wrap(err, "chunkcodec: bad NUMRESPONSES")
		}

		dataLen := int(hashSize) * int(numResponses)
		if dataLen > len(rest) {
			return 0, nil, errors.New("chunkcodec: hash data overruns full-hash response")
		}
		data := rest[:dataLen]
		rest = rest[dataLen:]

		group := fullHashGroup{List: list}
		for i := 0; i < int(numResponses); i++ {
			group.Hashes = append(group.Hashes, hex.EncodeToString(data[i*int(hashSize):(i+1)*int(hashSize)]))
		}
		groups = append(groups, group)

		if hasMeta {
			for i := 0; i < int(numResponses); i++ {
				metaLineEnd := indexByte(rest, '\n')
				if metaLineEnd < 0 {
					return 0, nil, errors.New("chunkcodec: truncated metadata length line")
				}
				metaLen, err := parseUint(string(rest[:metaLineEnd]))
				if err != nil {
					return 0, nil, errors.Wrap(err, "chunkcodec: bad METADATALEN")
				}
				rest = rest[metaLineEnd+1:]
				if int(metaLen) > len(rest) {
					return 0, nil, errors.New("chunkcodec: metadata block overruns response")
				}
				rest = rest[metaLen:] // metadata content itself is unused, see doc comment
			}
		}
	}
	return cacheLifetime, groups, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func parseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	var n uint64
	if s == "" {
		return 0, fmt.Errorf("empty integer")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a digit: %q", s)
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
}
