package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/huykn/identity-cache/types"
)

// ErrUnknownEventKind is returned when decoding an envelope whose kind tag is
// not recognized; senders running a newer version may emit kinds this node
// cannot apply.
var ErrUnknownEventKind = errors.New("unknown invalidation event kind")

// envelope is the wire form of an invalidation event: a kind tag for
// dispatch, the sender node id for self-skip and the variant payload.
type envelope struct {
	Kind   types.EventKind `json:"kind"`
	Sender string          `json:"sender"`
	Event  json.RawMessage `json:"event"`
}

// EncodeEvent serializes one invalidation event for the cluster channel.
func EncodeEvent(sender string, event types.InvalidationEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event.Kind(), err)
	}
	return json.Marshal(envelope{
		Kind:   event.Kind(),
		Sender: sender,
		Event:  payload,
	})
}

// DecodeEvent deserializes a cluster message, returning the event and the
// sender node id.
func DecodeEvent(data []byte) (types.InvalidationEvent, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("decode event envelope: %w", err)
	}
	event, err := decodePayload(env.Kind, env.Event)
	if err != nil {
		return nil, env.Sender, err
	}
	return event, env.Sender, nil
}

func decodePayload(kind types.EventKind, payload json.RawMessage) (types.InvalidationEvent, error) {
	var (
		event types.InvalidationEvent
		err   error
	)
	switch kind {
	case types.KindFullInvalidation:
		var e types.FullInvalidationEvent
		err = json.Unmarshal(payload, &e)
		event = e
	case types.KindFieldUpdate:
		var e types.FieldUpdateEvent
		err = json.Unmarshal(payload, &e)
		event = e
	case types.KindRealmInvalidation:
		var e types.RealmInvalidationEvent
		err = json.Unmarshal(payload, &e)
		event = e
	case types.KindConsentsUpdated:
		var e types.ConsentsUpdatedEvent
		err = json.Unmarshal(payload, &e)
		event = e
	case types.KindFederationLinkUpdated:
		var e types.FederationLinkUpdatedEvent
		err = json.Unmarshal(payload, &e)
		event = e
	case types.KindFederationLinkRemoved:
		var e types.FederationLinkRemovedEvent
		err = json.Unmarshal(payload, &e)
		event = e
	case types.KindClearAll:
		event = types.ClearAllEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", kind, err)
	}
	return event, nil
}
