package endpoint

import "sync"

// aliasRegistry is one direction (send or receive) of an endpoint's topic
// alias table, v5 only. Adapted from topic.Alias: that type is a single
// shared map; an endpoint needs two independent instances (what it has told
// its peer, and what its peer has told it), so this is kept as its own
// small type rather than reused directly.
//
// byTopic is the reverse index a sendAlias registry needs to decide, on
// each outbound PUBLISH, whether a topic has already been handed an alias
// and can now be sent alias-only.
type aliasRegistry struct {
	mu      sync.Mutex
	max     uint16
	topics  map[uint16]string
	byTopic map[string]uint16
	next    uint16
}

func newAliasRegistry(max uint16) *aliasRegistry {
	return &aliasRegistry{max: max, topics: make(map[uint16]string), byTopic: make(map[string]uint16)}
}

// Bind records alias -> topic. Returns ErrAliasZero/ErrAliasOutOfRange if
// alias is illegal for this registry's negotiated maximum.
func (r *aliasRegistry) Bind(alias uint16, topic string) error {
	if alias == 0 {
		return ErrAliasZero
	}
	if alias > r.max {
		return ErrAliasOutOfRange
	}

	r.mu.Lock()
	if old, ok := r.topics[alias]; ok && old != topic {
		delete(r.byTopic, old)
	}
	r.topics[alias] = topic
	r.byTopic[topic] = alias
	r.mu.Unlock()
	return nil
}

// LookupOrAssign returns the alias already bound to topic, allocating and
// binding the next free one if topic hasn't been sent before. assigned
// reports whether this call performed a fresh binding, so the caller knows
// the wire PUBLISH must still carry TopicName this time; ok is false once
// every alias up to Max is in use, in which case the caller falls back to
// sending the topic name as normal.
func (r *aliasRegistry) LookupOrAssign(topic string) (alias uint16, assigned bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, exists := r.byTopic[topic]; exists {
		return a, false, true
	}
	if r.next >= r.max {
		return 0, false, false
	}
	r.next++
	r.topics[r.next] = topic
	r.byTopic[topic] = r.next
	return r.next, true, true
}

// Resolve looks up the topic bound to alias. A zero-length topic name
// accompanying a PUBLISH with this alias means "use the previously bound
// topic"; callers pass the wire topic and alias together and fall back to
// Resolve only when topic == "".
func (r *aliasRegistry) Resolve(alias uint16) (string, error) {
	if alias == 0 {
		return "", ErrAliasZero
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	topic, ok := r.topics[alias]
	if !ok {
		return "", ErrAliasUnresolved
	}
	return topic, nil
}

func (r *aliasRegistry) Max() uint16 {
	return r.max
}

func (r *aliasRegistry) Clear() {
	r.mu.Lock()
	r.topics = make(map[uint16]string)
	r.byTopic = make(map[string]uint16)
	r.next = 0
	r.mu.Unlock()
}
