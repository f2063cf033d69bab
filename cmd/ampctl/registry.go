package main

import (
	"sync"
	"time"

	"github.com/cloudflare/cfamp/amp"
	"github.com/cloudflare/cfamp/api/schemas"
	"github.com/cloudflare/cfamp/notify"
	log "github.com/sirupsen/logrus"
)

// groupQueue keeps the latest notifications of one device group, in the
// order the receiver handed them off.
type groupQueue struct {
	name   string
	keep   int
	serial map[string]string

	lock     sync.RWMutex
	received int
	recent   []*schemas.OutputNotification
}

func (q *groupQueue) Enqueue(n amp.Notification) error {
	out := &schemas.OutputNotification{
		SerialNumber: n.SerialNumber,
		Device:       q.serial[n.SerialNumber],
		Topic:        string(n.Topic),
		Sequence:     n.Sequence,
		Timestamp:    n.Timestamp,
		Domain:       n.Domain,
		Remote:       n.RemoteAddr,
		Received:     int(time.Now().Unix()),
	}
	log.WithFields(log.Fields{
		"group":    q.name,
		"device":   out.Device,
		"topic":    out.Topic,
		"sequence": out.Sequence,
	}).Infof("Notification from %s", n.SerialNumber)

	q.lock.Lock()
	defer q.lock.Unlock()
	q.received++
	q.recent = append(q.recent, out)
	if len(q.recent) > q.keep {
		q.recent = q.recent[len(q.recent)-q.keep:]
	}
	return nil
}

func (q *groupQueue) snapshot() (int, []*schemas.OutputNotification) {
	q.lock.RLock()
	defer q.lock.RUnlock()
	return q.received, append([]*schemas.OutputNotification(nil), q.recent...)
}

// inventoryRegistry owns devices by serial number, one queue per group.
type inventoryRegistry struct {
	bySerial map[string]*groupQueue
	groups   []*groupQueue
}

func newInventoryRegistry(devices []*Device, keep int) *inventoryRegistry {
	if keep < 0 {
		keep = 0
	}
	r := &inventoryRegistry{bySerial: make(map[string]*groupQueue)}
	groups := make(map[string]*groupQueue)
	for _, d := range devices {
		if d.Serial == "" {
			continue
		}
		q, ok := groups[d.Group]
		if !ok {
			q = &groupQueue{name: d.Group, keep: keep, serial: make(map[string]string)}
			groups[d.Group] = q
			r.groups = append(r.groups, q)
		}
		q.serial[d.Serial] = d.Name
		r.bySerial[d.Serial] = q
	}
	return r
}

func (r *inventoryRegistry) OwnerOf(serial string) (notify.Queue, bool, error) {
	q, ok := r.bySerial[serial]
	if !ok {
		return nil, false, nil
	}
	return q, true, nil
}

func (r *inventoryRegistry) snapshot() (int, []*schemas.OutputNotification) {
	var total int
	all := make([]*schemas.OutputNotification, 0)
	for _, q := range r.groups {
		n, recent := q.snapshot()
		total += n
		all = append(all, recent...)
	}
	return total, all
}
