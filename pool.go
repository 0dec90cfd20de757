package attrsession

import (
	"bytes"
	"strings"
	"sync"
)

var readerPool = sync.Pool{
	New: func() any {
		return strings.NewReader("")
	},
}

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

var idBufferPool = sync.Pool{
	New: func() any {
		// 32 bytes: hex encoding of the 16 byte random id.
		b := make([]byte, 32)
		return &b
	},
}

// PutBuffer wipes the buffer's content and returns it to the pool, so encoded
// session payloads do not linger in pooled memory.
func PutBuffer(buf *bytes.Buffer) {
	b := buf.Bytes()
	clear(b)
	buf.Reset()
	bufferPool.Put(buf)
}
