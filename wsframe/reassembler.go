package wsframe

import (
	"sync"

	"github.com/corvidlabs/gds/gdserr"
)

// Reassembler holds the at-most-one pending fragmented message per channel
// (spec §4.4 fragment reassembly). Continuation frames append to the
// pending message's payload; the operation recorded on the first fragment is
// preserved on the frame eventually emitted. Control frames (Close/Ping/Pong)
// are never fragmented and pass straight through.
type Reassembler struct {
	mu      sync.Mutex
	pending *Frame
}

func NewReassembler() *Reassembler { return &Reassembler{} }

// Feed consumes one wire frame. It returns a non-nil Frame when a complete
// message is ready to dispatch: immediately for an unfragmented data frame
// or a control frame, or once the terminating (Fin) continuation arrives for
// a fragmented message. A nil, nil result means f was buffered as part of an
// in-progress fragmented message and nothing is ready yet.
func (r *Reassembler) Feed(f *Frame) (*Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case f.Opcode == OpContinuation:
		if r.pending == nil {
			return nil, &gdserr.ProtocolError{Reason: "continuation-without-start"}
		}
		r.pending.Payload = append(r.pending.Payload, f.Payload...)
		if !f.Fin {
			return nil, nil
		}
		done := r.pending
		done.Fin = true
		r.pending = nil
		return done, nil

	case f.Opcode.IsControl():
		return f, nil

	default:
		if f.Fin {
			return f, nil
		}
		if r.pending != nil {
			return nil, &gdserr.ProtocolError{Reason: "fragment-start-while-pending"}
		}
		r.pending = &Frame{
			Opcode:  f.Opcode,
			Payload: append([]byte(nil), f.Payload...),
		}
		return nil, nil
	}
}
