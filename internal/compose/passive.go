package compose

import (
	"time"

	"github.com/crystaldolphin/qqadapter/internal/qq"
)

// Passive is the reply binding of one send.
type Passive struct {
	MsgID   string
	EventID string
	Seq     int
	Wakeup  bool
}

func (p Passive) ref() qq.PassiveRef {
	if p.Wakeup {
		return qq.PassiveRef{Wakeup: true}
	}
	return qq.PassiveRef{MsgID: p.MsgID, EventID: p.EventID}
}

// Binder attaches the passive binding to the next payload of a send.
type Binder func(p *qq.Payload)

// Sequencer hands out strictly increasing msg_seq values from one base.
type Sequencer struct {
	base int
	n    int
}

// NewSequencer starts at explicit when it is positive, otherwise at a
// value derived from now.
func NewSequencer(explicit int, now time.Time) *Sequencer {
	base := explicit
	if base <= 0 {
		base = timeSeq(now)
	}
	return &Sequencer{base: base}
}

func timeSeq(now time.Time) int {
	return int(now.UnixMilli()%100_000_000) + 1
}

func (s *Sequencer) Next() int {
	seq := s.base + s.n
	s.n++
	return seq
}

// binder returns the Binder for a send on surf. Without a binding it is a
// no-op; guild surfaces bind ids but never msg_seq.
func binder(p *Passive, surf surface, seq *Sequencer) Binder {
	if p == nil {
		return func(*qq.Payload) {}
	}
	ref := p.ref()
	if ref.Wakeup && !surf.c2c {
		ref = qq.PassiveRef{}
	}
	if ref.Empty() {
		return func(*qq.Payload) {}
	}
	return func(pl *qq.Payload) {
		n := 0
		if surf.v2 {
			n = seq.Next()
		}
		pl.BindPassive(ref, n)
	}
}
