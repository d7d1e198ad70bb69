package manager

import (
	"github.com/srg/blemux/internal/transport"
)

// runPump is the single loop draining the transport's shared channels.
// Completions are handed to the operation waiting on them; stream
// events go to the subscription that owns them. The pump itself never
// blocks on a listener: subscriptions queue events and deliver on
// their own goroutines.
func (m *Manager) runPump() {
	defer close(m.pumpDone)

	completions := m.t.Completions()
	notifications := m.t.Notifications()
	scans := m.t.ScanResults()
	disconnections := m.t.Disconnections()
	states := m.t.StateChanges()
	restores := m.t.StateRestores()

	for {
		select {
		case <-m.quit:
			return

		case c, ok := <-completions:
			if !ok {
				completions = nil
				continue
			}
			m.deliverCompletion(c)

		case n, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			m.routeNotification(n)

		case r, ok := <-scans:
			if !ok {
				scans = nil
				continue
			}
			m.routeScanResult(r)

		case d, ok := <-disconnections:
			if !ok {
				disconnections = nil
				continue
			}
			m.routeDisconnection(d)

		case sc, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			m.routeStateChange(sc)

		case sr, ok := <-restores:
			if !ok {
				restores = nil
				continue
			}
			if m.restoreHandler != nil {
				m.restoreHandler(sr.State)
			}
		}
	}
}

// deliverCompletion hands c to the operation waiting on its transaction
// id. Completions for transactions that already settled (cancelled,
// timed out) are discarded; the waiter slot is buffered so a duplicate
// from a confused backend cannot stall the pump either.
func (m *Manager) deliverCompletion(c transport.Completion) {
	m.mu.Lock()
	w := m.waiters[c.TxID]
	m.mu.Unlock()

	if w == nil {
		m.logger.WithFields(map[string]interface{}{
			"tx": c.TxID,
		}).Debug("discarding completion for settled transaction")
		return
	}
	select {
	case w <- c:
	default:
		m.logger.WithFields(map[string]interface{}{
			"tx": c.TxID,
		}).Debug("discarding duplicate completion")
	}
}

func (m *Manager) routeNotification(n transport.Notification) {
	s := m.subByID(n.TxID, catNotify)
	if s == nil {
		m.logger.WithFields(map[string]interface{}{
			"tx": n.TxID,
		}).Debug("discarding notification for unknown monitor")
		return
	}
	switch {
	case n.Err != nil:
		s.fail(n.Err, false)
	case n.Done:
		s.finish()
	default:
		s.offer(subEvent{char: n.Char})
	}
}

func (m *Manager) routeScanResult(r transport.ScanResult) {
	if r.Adv != nil {
		m.devices.Set(r.Adv.DeviceID, r.Adv)
	}
	s := m.subByID(r.TxID, catScan)
	if s == nil {
		return
	}
	if r.Err != nil {
		s.fail(r.Err, false)
		return
	}
	s.offer(subEvent{adv: r.Adv})
}

func (m *Manager) routeDisconnection(d transport.Disconnection) {
	for _, s := range m.subsByCategory(catDisconnect) {
		if s.key != "" && s.key != d.DeviceID {
			continue
		}
		s.offer(subEvent{deviceID: d.DeviceID, err: d.Err})
	}
}

func (m *Manager) routeStateChange(sc transport.StateChange) {
	for _, s := range m.subsByCategory(catState) {
		s.offer(subEvent{state: sc.State})
	}
}

// subByID resolves the subscription owning a transaction id, nil when
// absent or of another category.
func (m *Manager) subByID(id string, cat subCategory) *Subscription {
	m.mu.Lock()
	s := m.subs[id]
	m.mu.Unlock()
	if s == nil || s.category != cat {
		return nil
	}
	return s
}

func (m *Manager) subsByCategory(cat subCategory) []*Subscription {
	m.mu.Lock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if s.category == cat {
			out = append(out, s)
		}
	}
	m.mu.Unlock()
	return out
}
