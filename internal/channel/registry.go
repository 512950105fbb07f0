// Package channel implements the in-memory pub/sub registry: group →
// channel → set of subscribers, with a reverse index per subscriber for O(1)
// teardown on disconnect. The registry is owned by the hub goroutine and is
// only ever mutated within a single dispatch turn, so it carries no locks.
package channel

import (
	"go.uber.org/zap"
)

// Subscriber is the registry's view of a connection.
type Subscriber interface {
	// ID is the stable connection id used for set membership.
	ID() string
	// UserID identifies the player behind the connection.
	UserID() string
	// Enqueue hands an encoded frame to the connection's outbound queue.
	// It must not block; a full queue is an error.
	Enqueue(data []byte) error
}

// Registry tracks channel membership per group.
type Registry struct {
	log *zap.Logger

	// groups[group][channel][connID] = subscriber
	groups map[string]map[string]map[string]Subscriber
	// reverse[connID] = set of "group\x00channel" membership keys
	reverse map[string]map[membership]Subscriber
}

type membership struct {
	group   string
	channel string
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:     log.Named("channel"),
		groups:  make(map[string]map[string]map[string]Subscriber),
		reverse: make(map[string]map[membership]Subscriber),
	}
}

// Subscribe adds sub to (group, channel), creating both lazily. It is
// idempotent, and it enforces the single-channel-per-group invariant: any
// other channel the subscriber holds in this group is left first.
func (r *Registry) Subscribe(sub Subscriber, group, channel string) {
	for m := range r.reverse[sub.ID()] {
		if m.group == group && m.channel != channel {
			r.Unsubscribe(sub, m.group, m.channel)
		}
	}

	chans, ok := r.groups[group]
	if !ok {
		chans = make(map[string]map[string]Subscriber)
		r.groups[group] = chans
	}
	set, ok := chans[channel]
	if !ok {
		set = make(map[string]Subscriber)
		chans[channel] = set
	}
	set[sub.ID()] = sub

	rev, ok := r.reverse[sub.ID()]
	if !ok {
		rev = make(map[membership]Subscriber)
		r.reverse[sub.ID()] = rev
	}
	rev[membership{group, channel}] = sub
}

// Unsubscribe removes sub from (group, channel), deleting the channel entry
// when its set empties and the group entry when its last channel goes.
func (r *Registry) Unsubscribe(sub Subscriber, group, channel string) {
	if chans, ok := r.groups[group]; ok {
		if set, ok := chans[channel]; ok {
			delete(set, sub.ID())
			if len(set) == 0 {
				delete(chans, channel)
			}
		}
		if len(chans) == 0 {
			delete(r.groups, group)
		}
	}

	if rev, ok := r.reverse[sub.ID()]; ok {
		delete(rev, membership{group, channel})
		if len(rev) == 0 {
			delete(r.reverse, sub.ID())
		}
	}
}

// UnsubscribeGroup removes sub from every channel tracked for group. The
// single-channel invariant means at most one, but stale extra entries are
// tolerated and cleaned up too.
func (r *Registry) UnsubscribeGroup(sub Subscriber, group string) {
	for m := range r.reverse[sub.ID()] {
		if m.group == group {
			r.Unsubscribe(sub, m.group, m.channel)
		}
	}
}

// UnsubscribeAll tears down every membership the subscriber holds. Safe to
// call for a connection that never subscribed to anything.
func (r *Registry) UnsubscribeAll(sub Subscriber) {
	for m := range r.reverse[sub.ID()] {
		r.Unsubscribe(sub, m.group, m.channel)
	}
}

// Publish sends data to every subscriber of (group, channel) except exclude.
// Individual send failures are logged and skipped; they never abort delivery
// to the rest. Publishing to a missing group or channel sends to no one.
func (r *Registry) Publish(group, channel string, data []byte, exclude Subscriber) int {
	chans, ok := r.groups[group]
	if !ok {
		return 0
	}
	set, ok := chans[channel]
	if !ok {
		return 0
	}

	sent := 0
	for id, sub := range set {
		if exclude != nil && id == exclude.ID() {
			continue
		}
		if err := sub.Enqueue(data); err != nil {
			r.log.Warn("publish send failed",
				zap.String("group", group),
				zap.String("channel", channel),
				zap.String("user", sub.UserID()),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// BroadcastToGroup sends data to the de-duplicated union of all channel
// subscriber sets within group, except exclude.
func (r *Registry) BroadcastToGroup(group string, data []byte, exclude Subscriber) int {
	chans, ok := r.groups[group]
	if !ok {
		return 0
	}

	seen := make(map[string]struct{})
	sent := 0
	for channel, set := range chans {
		for id, sub := range set {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if exclude != nil && id == exclude.ID() {
				continue
			}
			if err := sub.Enqueue(data); err != nil {
				r.log.Warn("group broadcast send failed",
					zap.String("group", group),
					zap.String("channel", channel),
					zap.String("user", sub.UserID()),
					zap.Error(err))
				continue
			}
			sent++
		}
	}
	return sent
}

// Members returns the subscribers of (group, channel), or nil if it does not
// exist. Callers must not mutate through the returned slice.
func (r *Registry) Members(group, channel string) []Subscriber {
	chans, ok := r.groups[group]
	if !ok {
		return nil
	}
	set, ok := chans[channel]
	if !ok {
		return nil
	}
	members := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		members = append(members, sub)
	}
	return members
}

// Channel reports the channel sub currently holds in group ("" if none).
func (r *Registry) Channel(sub Subscriber, group string) string {
	for m := range r.reverse[sub.ID()] {
		if m.group == group {
			return m.channel
		}
	}
	return ""
}

// Membership names one (group, channel) a subscriber belongs to.
type Membership struct {
	Group   string
	Channel string
}

// Memberships lists every channel the subscriber currently occupies.
func (r *Registry) Memberships(sub Subscriber) []Membership {
	rev := r.reverse[sub.ID()]
	if len(rev) == 0 {
		return nil
	}
	out := make([]Membership, 0, len(rev))
	for m := range rev {
		out = append(out, Membership{Group: m.group, Channel: m.channel})
	}
	return out
}

// HasGroup reports whether group currently tracks any channel.
func (r *Registry) HasGroup(group string) bool {
	return len(r.groups[group]) > 0
}

// HasChannel reports whether (group, channel) currently exists.
func (r *Registry) HasChannel(group, channel string) bool {
	_, ok := r.groups[group][channel]
	return ok
}

// GroupSnapshot describes one group's channels for introspection.
type GroupSnapshot struct {
	Group    string         `json:"group"`
	Channels map[string]int `json:"channels"`
}

// Snapshot returns subscriber counts per channel for the admin API.
func (r *Registry) Snapshot() []GroupSnapshot {
	out := make([]GroupSnapshot, 0, len(r.groups))
	for group, chans := range r.groups {
		gs := GroupSnapshot{Group: group, Channels: make(map[string]int, len(chans))}
		for channel, set := range chans {
			gs.Channels[channel] = len(set)
		}
		out = append(out, gs)
	}
	return out
}
