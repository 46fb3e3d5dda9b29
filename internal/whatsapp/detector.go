package whatsapp

import (
	"strings"

	"github.com/batilieri/multichat-system/internal/models"
)

// MessageType is the coarse type of a message content object
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeSticker  MessageType = "sticker"
	TypeContact  MessageType = "contact"
	TypeLocation MessageType = "location"
	TypePoll     MessageType = "poll"
	TypeReaction MessageType = "reaction"
	TypeProtocol MessageType = "protocol"
	TypeUnknown  MessageType = "unknown"
)

// mediaKeys is checked in order; the first key present wins
var mediaKeys = []struct {
	key string
	typ MessageType
}{
	{"imageMessage", TypeImage},
	{"videoMessage", TypeVideo},
	{"audioMessage", TypeAudio},
	{"documentMessage", TypeDocument},
	{"stickerMessage", TypeSticker},
}

var structuredKeys = []struct {
	key string
	typ MessageType
}{
	{"contactMessage", TypeContact},
	{"contactsArrayMessage", TypeContact},
	{"locationMessage", TypeLocation},
	{"liveLocationMessage", TypeLocation},
	{"pollCreationMessage", TypePoll},
	{"pollCreationMessageV2", TypePoll},
	{"pollCreationMessageV3", TypePoll},
}

var wrapperKeys = []string{
	"ephemeralMessage",
	"viewOnceMessage",
	"viewOnceMessageV2",
	"viewOnceMessageV2Extension",
	"documentWithCaptionMessage",
	"editedMessage",
}

// sync and control frames that never show up in the inbox
var protocolKeys = map[string]struct{}{
	"protocolMessage":              {},
	"senderKeyDistributionMessage": {},
	"messageContextInfo":           {},
	"deviceSentMessage":            {},
	"keepInChatMessage":            {},
	"pollUpdateMessage":            {},
	"encReactionMessage":           {},
	"appStateSyncKeyShare":         {},
	"historySyncNotification":      {},
}

var tags = map[MessageType]string{
	TypeText:     models.TipoTexto,
	TypeImage:    models.TipoImagem,
	TypeVideo:    models.TipoVideo,
	TypeAudio:    models.TipoAudio,
	TypeDocument: models.TipoDocumento,
	TypeSticker:  models.TipoSticker,
	TypeContact:  models.TipoContato,
	TypeLocation: models.TipoLocalizacao,
	TypePoll:     models.TipoEnquete,
	TypeReaction: models.TipoReacao,
	TypeProtocol: models.TipoProtocolo,
	TypeUnknown:  models.TipoDesconhecido,
}

// Tag returns the persisted tipo for the type
func (t MessageType) Tag() string {
	if tag, ok := tags[t]; ok {
		return tag
	}
	return models.TipoDesconhecido
}

// IsMedia reports whether the type carries a downloadable asset
func (t MessageType) IsMedia() bool {
	switch t {
	case TypeImage, TypeVideo, TypeAudio, TypeDocument, TypeSticker:
		return true
	}
	return false
}

// ContentKey is the vendor key the type lives under, e.g. "imageMessage"
func (t MessageType) ContentKey() string {
	for _, m := range mediaKeys {
		if m.typ == t {
			return m.key
		}
	}
	return ""
}

// TypeFromTag maps a persisted tipo back to a MessageType
func TypeFromTag(tag string) MessageType {
	for t, v := range tags {
		if v == tag {
			return t
		}
	}
	return TypeUnknown
}

// Unwrap strips container messages until the inner content is reached
func Unwrap(content map[string]interface{}) map[string]interface{} {
	for depth := 0; depth < 5 && content != nil; depth++ {
		inner := unwrapOnce(content)
		if inner == nil {
			return content
		}
		content = inner
	}
	return content
}

func unwrapOnce(content map[string]interface{}) map[string]interface{} {
	for _, key := range wrapperKeys {
		wrapper, ok := content[key].(map[string]interface{})
		if !ok {
			continue
		}
		if key == "editedMessage" {
			// editedMessage.message.protocolMessage.editedMessage holds the new body
			if msg, ok := wrapper["message"].(map[string]interface{}); ok {
				if pm, ok := msg["protocolMessage"].(map[string]interface{}); ok {
					if edited, ok := pm["editedMessage"].(map[string]interface{}); ok {
						return edited
					}
				}
				return msg
			}
		}
		if msg, ok := wrapper["message"].(map[string]interface{}); ok {
			return msg
		}
	}
	return nil
}

// DetectType classifies a message content object. Media keys are checked
// first in fixed order, then reactions, structured types and text. Content
// made only of control keys is a protocol message.
func DetectType(content map[string]interface{}) MessageType {
	content = Unwrap(content)
	if len(content) == 0 {
		return TypeUnknown
	}

	for _, m := range mediaKeys {
		if _, ok := content[m.key].(map[string]interface{}); ok {
			return m.typ
		}
	}
	if _, ok := content["reactionMessage"].(map[string]interface{}); ok {
		return TypeReaction
	}
	for _, s := range structuredKeys {
		if _, ok := content[s.key].(map[string]interface{}); ok {
			return s.typ
		}
	}
	if Text(content) != "" {
		return TypeText
	}

	onlyProtocol := true
	for key := range content {
		if _, ok := protocolKeys[key]; !ok {
			onlyProtocol = false
			break
		}
	}
	if onlyProtocol {
		return TypeProtocol
	}
	return TypeUnknown
}

// Text returns the plain text body of a content object, if any
func Text(content map[string]interface{}) string {
	content = Unwrap(content)
	if s, ok := content["conversation"].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	if ext, ok := content["extendedTextMessage"].(map[string]interface{}); ok {
		if s, ok := ext["text"].(string); ok {
			return s
		}
	}
	if s, ok := content["text"].(string); ok {
		return s
	}
	return ""
}

// Reaction is the decoded body of a reactionMessage
type Reaction struct {
	TargetID string
	Emoji    string
	FromMe   bool
}

// ParseReaction reads the target message id and emoji of a reaction
func ParseReaction(content map[string]interface{}) (Reaction, bool) {
	content = Unwrap(content)
	rm, ok := content["reactionMessage"].(map[string]interface{})
	if !ok {
		return Reaction{}, false
	}
	r := Reaction{Emoji: asString(rm["text"])}
	if key, ok := rm["key"].(map[string]interface{}); ok {
		r.TargetID = asString(key["id"])
		r.FromMe, _ = asBool(key["fromMe"])
	}
	if r.TargetID == "" {
		return Reaction{}, false
	}
	return r, true
}

// ProtocolAction is an edit or revoke carried by a protocolMessage
type ProtocolAction struct {
	Kind     string // "edit" or "revoke"
	TargetID string
	Text     string
}

// protocolMessage.type values used by the vendor
const (
	protocolRevoke      = 0
	protocolMessageEdit = 14
)

// ParseProtocol decodes edit and revoke frames. Other protocol messages
// report false.
func ParseProtocol(content map[string]interface{}) (ProtocolAction, bool) {
	pm := findProtocol(content)
	if pm == nil {
		return ProtocolAction{}, false
	}
	var a ProtocolAction
	if key, ok := pm["key"].(map[string]interface{}); ok {
		a.TargetID = asString(key["id"])
	}
	if a.TargetID == "" {
		return ProtocolAction{}, false
	}

	kind, ok := asInt64(pm["type"])
	if !ok {
		kind = -1
	}
	if s, isString := pm["type"].(string); isString {
		switch strings.ToUpper(s) {
		case "REVOKE":
			kind = protocolRevoke
		case "MESSAGE_EDIT":
			kind = protocolMessageEdit
		}
	}

	switch {
	case kind == protocolMessageEdit:
		edited, _ := pm["editedMessage"].(map[string]interface{})
		a.Kind = "edit"
		a.Text = Text(edited)
		if a.Text == "" {
			return ProtocolAction{}, false
		}
	case kind == protocolRevoke:
		a.Kind = "revoke"
	default:
		return ProtocolAction{}, false
	}
	return a, true
}

func findProtocol(content map[string]interface{}) map[string]interface{} {
	if pm, ok := content["protocolMessage"].(map[string]interface{}); ok {
		return pm
	}
	for _, key := range wrapperKeys {
		wrapper, ok := content[key].(map[string]interface{})
		if !ok {
			continue
		}
		if msg, ok := wrapper["message"].(map[string]interface{}); ok {
			if pm := findProtocol(msg); pm != nil {
				return pm
			}
		}
	}
	return nil
}
