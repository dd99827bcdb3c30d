package live

import (
	"encoding/json"
	"errors"
	"fmt"

	"loopline/internal/models"
)

// Event types carried in the envelope's type field.
const (
	TypeNotification = "notification"
	TypeLivePost     = "live_post"
)

// Handlers receives decoded events. Each event kind has exactly one method,
// so adding a kind is a compile-time change for every receiver.
type Handlers interface {
	HandleNotification(n models.Notification)
	HandleLivePost(p models.PostPatch)
}

// Event is a decoded push message.
type Event interface {
	Type() string
	Dispatch(h Handlers)
}

// NotificationEvent goes to the notification container.
type NotificationEvent struct {
	Notification models.Notification
}

func (NotificationEvent) Type() string { return TypeNotification }

func (e NotificationEvent) Dispatch(h Handlers) { h.HandleNotification(e.Notification) }

// LivePostEvent goes to the feed container. Patch holds only the fields the
// frame carried.
type LivePostEvent struct {
	Patch models.PostPatch
}

func (LivePostEvent) Type() string { return TypeLivePost }

func (e LivePostEvent) Dispatch(h Handlers) { h.HandleLivePost(e.Patch) }

// decoders is the dispatch table. New event kinds are registered here only.
var decoders = map[string]func(json.RawMessage) (Event, error){
	TypeNotification: func(raw json.RawMessage) (Event, error) {
		var n models.Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		if n.ID == 0 {
			return nil, errors.New("notification without id")
		}
		return NotificationEvent{Notification: n}, nil
	},
	TypeLivePost: func(raw json.RawMessage) (Event, error) {
		var p models.PostPatch
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.ID == 0 {
			return nil, errors.New("post without id")
		}
		return LivePostEvent{Patch: p}, nil
	},
}

// Decode failures, reported as the dropped-frame reason.
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown event type")
)

type envelope struct {
	Type    *string `json:"type"`
	Message *struct {
		Payload json.RawMessage `json:"payload"`
	} `json:"message"`
}

// Decode parses a { type, message: { payload } } frame.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == nil || *env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	if env.Message == nil || len(env.Message.Payload) == 0 || string(env.Message.Payload) == "null" {
		return nil, fmt.Errorf("%w: missing message payload", ErrMalformedFrame)
	}
	decode, ok := decoders[*env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, *env.Type)
	}
	ev, err := decode(env.Message.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, *env.Type, err)
	}
	return ev, nil
}

// Encode builds a frame for ev. The devserver and tests use it to produce
// frames the decoder accepts.
func Encode(eventType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"type":    eventType,
		"message": map[string]json.RawMessage{"payload": body},
	})
}

func dropReason(err error) string {
	if errors.Is(err, ErrUnknownType) {
		return "unknown_type"
	}
	return "malformed"
}
