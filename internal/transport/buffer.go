package transport

import "sync"

// receiveBufferSize comfortably exceeds AbsoluteMaxMessageSize so a
// single read never truncates a datagram.
const receiveBufferSize = 9000

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, receiveBufferSize)
		return &b
	},
}

// getBuffer borrows a scratch buffer for one Receive call.
func getBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// putBuffer returns a buffer borrowed from getBuffer.
func putBuffer(b *[]byte) {
	bufferPool.Put(b)
}
