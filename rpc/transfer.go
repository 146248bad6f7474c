package rpc

// transferState is the connection's single binary-transfer slot.
//
// The gateway does not tag binary frames with a request id, so at most one
// transfer can be received at a time. A transfer is opened by a file/start
// frame and ends when the owning call is resolved, cancelled or drained.
type transferState interface {
	isTransferState()
}

// transferIdle means binary frames are ignored.
type transferIdle struct{}

// transferReceiving accumulates chunks for requestID in arrival order.
type transferReceiving struct {
	requestID string
	chunks    [][]byte
}

func (transferIdle) isTransferState()       {}
func (*transferReceiving) isTransferState() {}

// ownedBy reports whether the slot is receiving for requestID.
func ownedBy(s transferState, requestID string) (*transferReceiving, bool) {
	r, ok := s.(*transferReceiving)
	if !ok || r.requestID != requestID {
		return nil, false
	}
	return r, true
}

// concat joins the received chunks in arrival order.
func (r *transferReceiving) concat() []byte {
	size := 0
	for _, c := range r.chunks {
		size += len(c)
	}
	out := make([]byte, 0, size)
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}
