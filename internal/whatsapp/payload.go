// Package whatsapp turns W-API webhook bodies into the values the inbox
// persists: canonical chat ids, message types, message content and the
// from_me flag. The vendor moves fields between event types, so every
// accessor walks an ordered list of candidate locations.
package whatsapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Payload is a decoded webhook body
type Payload map[string]interface{}

// ParsePayload decodes a webhook body. Numbers are kept as json.Number so
// millisecond timestamps survive intact.
func ParsePayload(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("invalid webhook payload: empty object")
	}
	return p, nil
}

// Lookup walks nested objects along path
func (p Payload) Lookup(path ...string) (interface{}, bool) {
	return lookup(map[string]interface{}(p), path...)
}

func lookup(m map[string]interface{}, path ...string) (interface{}, bool) {
	var cur interface{} = m
	for _, key := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// FirstString returns the first non-empty string found along the given paths
func (p Payload) FirstString(paths ...[]string) string {
	for _, path := range paths {
		if v, ok := p.Lookup(path...); ok {
			if s := asString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// Object returns the nested object at path, or nil
func (p Payload) Object(path ...string) map[string]interface{} {
	v, ok := p.Lookup(path...)
	if !ok {
		return nil
	}
	obj, _ := v.(map[string]interface{})
	return obj
}

// Bool reads a boolean at path. Strings "true"/"false" are accepted since
// some event types send flags as text.
func (p Payload) Bool(path ...string) (value bool, present bool) {
	v, ok := p.Lookup(path...)
	if !ok {
		return false, false
	}
	return asBool(v)
}

func asBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	case json.Number:
		n, err := b.Int64()
		if err != nil {
			return false, false
		}
		return n != 0, true
	}
	return false, false
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(n), true
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	case map[string]interface{}:
		// protobuf Long encoded as {"low": .., "high": .., "unsigned": ..}
		low, okLow := asInt64(n["low"])
		high, _ := asInt64(n["high"])
		if okLow {
			return high<<32 | (low & 0xffffffff), true
		}
	}
	return 0, false
}

// Event returns the vendor event name
func (p Payload) Event() string {
	return p.FirstString([]string{"event"}, []string{"type"})
}

// InstanceID returns the vendor instance that produced the event
func (p Payload) InstanceID() string {
	return p.FirstString([]string{"instanceId"}, []string{"instance_id"}, []string{"instance"})
}

// MessageID returns the vendor message id
func (p Payload) MessageID() string {
	return p.FirstString(
		[]string{"messageId"},
		[]string{"key", "id"},
		[]string{"msgId"},
		[]string{"message_id"},
	)
}

// ChatJID returns the raw chat identifier
func (p Payload) ChatJID() string {
	if s, ok := p["chat"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return p.FirstString(
		[]string{"chat", "id"},
		[]string{"key", "remoteJid"},
		[]string{"chatId"},
		[]string{"chat_id"},
		[]string{"remoteJid"},
	)
}

// SenderJID returns the raw sender identifier
func (p Payload) SenderJID() string {
	if s, ok := p["sender"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return p.FirstString(
		[]string{"sender", "id"},
		[]string{"key", "participant"},
		[]string{"participant"},
		[]string{"from"},
	)
}

// SenderName returns the best display name offered for the sender
func (p Payload) SenderName() string {
	return p.FirstString(
		[]string{"sender", "pushName"},
		[]string{"pushName"},
		[]string{"sender", "name"},
		[]string{"notifyName"},
	)
}

// VerifiedName returns the business verified name, if any
func (p Payload) VerifiedName() string {
	return p.FirstString([]string{"sender", "verifiedBizName"}, []string{"verifiedBizName"})
}

func (p Payload) SenderPhoto() string {
	return p.FirstString([]string{"sender", "profilePicture"}, []string{"senderPhoto"})
}

func (p Payload) ChatName() string {
	return p.FirstString([]string{"chat", "name"}, []string{"chatName"})
}

func (p Payload) ChatPhoto() string {
	return p.FirstString([]string{"chat", "profilePicture"}, []string{"chat", "photo"})
}

// ConnectedPhone is the tenant's own number as reported by the vendor
func (p Payload) ConnectedPhone() string {
	return p.FirstString([]string{"connectedPhone"}, []string{"phone"})
}

// Content returns the message-content sub-object
func (p Payload) Content() map[string]interface{} {
	for _, key := range []string{"msgContent", "message", "content"} {
		if obj := p.Object(key); obj != nil {
			return obj
		}
	}
	return nil
}

// Timestamp returns the send time. Values above 1e12 are milliseconds.
func (p Payload) Timestamp() time.Time {
	for _, key := range []string{"messageTimestamp", "moment", "timestamp"} {
		v, ok := p.Lookup(key)
		if !ok {
			continue
		}
		if n, ok := asInt64(v); ok && n > 0 {
			if n > 1e12 {
				return time.UnixMilli(n).UTC()
			}
			return time.Unix(n, 0).UTC()
		}
	}
	return time.Time{}
}

// Status returns the delivery status of a status event
func (p Payload) Status() string {
	return strings.ToUpper(p.FirstString([]string{"status"}, []string{"ack"}))
}
