package buffer

import "github.com/corvidlabs/gds/pool"

// node is a singly linked chunk-chain element, binding either a pooled
// chunk or a raw/foreign byte view to a byte offset and length within it.
// Offset+length must lie within the underlying array (enforced at append
// time by the Buffer methods that construct nodes).
type node struct {
	chunk  *pool.Chunk // non-nil for a pooled-chunk node
	raw    []byte      // non-nil for a raw/foreign byte-view node
	offset int
	length int
	next   *node
}

func (n *node) bytes() []byte {
	if n.chunk != nil {
		return n.chunk.Bytes()[n.offset : n.offset+n.length]
	}
	return n.raw[n.offset : n.offset+n.length]
}

// release drops this node's hold on its chunk, if any. Raw/foreign nodes
// have nothing to release: their memory was never pool-tracked.
func (n *node) release() {
	if n.chunk != nil {
		n.chunk.Release()
	}
}
