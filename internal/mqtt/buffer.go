package mqtt

// bufferedMsg is a message held for replay after a reconnect.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is unreachable. When
// full, the oldest message is discarded. The caller synchronizes.
type outbox struct {
	msgs    []bufferedMsg
	limit   int
	dropped int // since the last drain
}

func newOutbox(limit int) *outbox {
	if limit < 1 {
		limit = 1
	}
	return &outbox{limit: limit}
}

// add queues m and reports whether it caused the first drop since the
// last drain.
func (o *outbox) add(m bufferedMsg) bool {
	if len(o.msgs) < o.limit {
		o.msgs = append(o.msgs, m)
		return false
	}
	copy(o.msgs, o.msgs[1:])
	o.msgs[len(o.msgs)-1] = m
	o.dropped++
	return o.dropped == 1
}

// drain empties the outbox, returning the queued messages oldest first and
// how many were discarded.
func (o *outbox) drain() ([]bufferedMsg, int) {
	msgs, dropped := o.msgs, o.dropped
	o.msgs = nil
	o.dropped = 0
	return msgs, dropped
}

func (o *outbox) len() int {
	return len(o.msgs)
}
