package link

import "time"

// Timer names used by the link layer. Per-peer negotiation timers are
// derived from the peer endpoint.
const (
	timerJoin = "join"
	timerPing = "ping"
)

// timerFire is posted to the link layer task when a scheduled wakeup
// expires. Stale fires (cancelled or rescheduled timers) are detected
// by generation mismatch and ignored.
type timerFire struct {
	name string
	gen  uint64
}

// schedule arms a named wakeup, replacing any previous one with the
// same name.
func (l *LinkLayer) schedule(name string, d time.Duration) {
	l.timerGen[name]++
	gen := l.timerGen[name]
	time.AfterFunc(d, func() {
		select {
		case l.timerC <- timerFire{name: name, gen: gen}:
		case <-l.done:
		}
	})
}

// cancelTimer disarms a named wakeup. A fire already in flight is
// discarded by the generation check.
func (l *LinkLayer) cancelTimer(name string) {
	l.timerGen[name]++
}

// timerLive reports whether a fire corresponds to the currently armed
// generation of its timer.
func (l *LinkLayer) timerLive(f timerFire) bool {
	return l.timerGen[f.name] == f.gen
}

// negotiationTimerName returns the per-peer negotiation timer name.
func negotiationTimerName(n *Node) string {
	return "negotiation/" + n.Endpoint().String()
}
