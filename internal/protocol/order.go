package protocol

// StatusOrder drops status frames that are older than one already
// accepted from the same sender. Frames are ordered by (Boot, Seq); a
// restarted core starts a new, larger Boot and so resets the sequence.
// The zero value is ready to use.
type StatusOrder struct {
	last map[string]statusMark
}

type statusMark struct {
	boot int64
	seq  uint64
}

// Accept reports whether st is newer than everything seen from sender and,
// if so, records it.
func (o *StatusOrder) Accept(sender string, st StatusFrame) bool {
	if o.last == nil {
		o.last = make(map[string]statusMark)
	}
	if prev, ok := o.last[sender]; ok {
		if st.Boot < prev.boot || (st.Boot == prev.boot && st.Seq <= prev.seq) {
			return false
		}
	}
	o.last[sender] = statusMark{boot: st.Boot, seq: st.Seq}
	return true
}
