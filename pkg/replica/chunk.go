package replica

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Every automerge save is a run of chunks:
// magic(4) checksum(4) type(1) uleb128(length) data(length).
var chunkMagic = []byte{0x85, 0x6f, 0x4a, 0x83}

const (
	chunkDocument         = 0
	chunkChange           = 1
	chunkCompressedChange = 2
)

// checkChunks reports whether b is a non-empty run of well-framed chunks. It
// does not look inside the chunk bodies.
func checkChunks(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty update")
	}
	for n := 0; len(b) > 0; n++ {
		if len(b) < len(chunkMagic)+5 || !bytes.Equal(b[:len(chunkMagic)], chunkMagic) {
			return fmt.Errorf("chunk %d: bad header", n)
		}
		b = b[len(chunkMagic)+4:]
		switch b[0] {
		case chunkDocument, chunkChange, chunkCompressedChange:
		default:
			return fmt.Errorf("chunk %d: unknown type %d", n, b[0])
		}
		size, w := binary.Uvarint(b[1:])
		if w <= 0 {
			return fmt.Errorf("chunk %d: bad length", n)
		}
		b = b[1+w:]
		if size > uint64(len(b)) {
			return fmt.Errorf("chunk %d: %d bytes declared, %d left", n, size, len(b))
		}
		b = b[size:]
	}
	return nil
}
