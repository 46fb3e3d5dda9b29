package whatsapp

import (
	"strings"
)

// Self identifies the tenant's own WhatsApp number
type Self struct {
	InstanceID string
	Phone      string
}

// FromMeSource names the signal that decided ResolveFromMe
type FromMeSource string

const (
	FromMeKey      FromMeSource = "key.fromMe"
	FromMeRoot     FromMeSource = "fromMe"
	FromMeInstance FromMeSource = "sender-in-instance"
	FromMePhone    FromMeSource = "sender-is-connected-phone"
	FromMeOwnChat  FromMeSource = "own-chat"
	FromMeDefault  FromMeSource = "default"
)

// ResolveFromMe decides whether the tenant sent the message. The first
// applicable signal wins.
func ResolveFromMe(p Payload, self Self) bool {
	v, _ := ResolveFromMeSource(p, self)
	return v
}

// ResolveFromMeSource is ResolveFromMe plus the deciding signal, for logs
func ResolveFromMeSource(p Payload, self Self) (bool, FromMeSource) {
	if v, ok := p.Bool("key", "fromMe"); ok {
		return v, FromMeKey
	}
	if v, ok := p.Bool("fromMe"); ok {
		return v, FromMeRoot
	}

	sender := BarePhone(p.SenderJID())
	if sender != "" {
		if self.InstanceID != "" && strings.Contains(self.InstanceID, sender) {
			return true, FromMeInstance
		}
		if own := BarePhone(self.Phone); own != "" && own == sender {
			return true, FromMePhone
		}
	}

	// a 1:1 chat with the tenant's own number
	chat := BarePhone(p.ChatJID())
	own := BarePhone(self.Phone)
	if own == "" {
		own = BarePhone(p.ConnectedPhone())
	}
	if chat != "" && chat == sender && chat == own {
		return true, FromMeOwnChat
	}
	return false, FromMeDefault
}
