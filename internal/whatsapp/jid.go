package whatsapp

import (
	"strings"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow/types"
)

// ChatKind is the coarse classification of a chat identifier
type ChatKind int

const (
	KindIgnored ChatKind = iota
	KindIndividual
	KindGroup
)

func (k ChatKind) String() string {
	switch k {
	case KindIndividual:
		return "individual"
	case KindGroup:
		return "group"
	default:
		return "ignored"
	}
}

// Classification is the normalizer's verdict on one raw JID
type Classification struct {
	ChatID     string
	Kind       ChatKind
	Suspicious bool
	Reason     string
	allowed    bool
}

// IsGroup reports whether the id is a group chat
func (c Classification) IsGroup() bool {
	return c.Kind == KindGroup
}

// Persistable reports whether the id may become a Chat row. Groups only
// qualify when they are explicitly allow-listed.
func (c Classification) Persistable() bool {
	switch c.Kind {
	case KindIndividual:
		return true
	case KindGroup:
		return c.allowed
	}
	return false
}

// NormalizerConfig holds the allow/deny lists and the numeric heuristic
type NormalizerConfig struct {
	IgnoredIDs      []string
	AllowedGroupIDs []string
	// Bare numeric ids longer than MinLength digits starting with Prefix
	// look like group ids that lost their suffix. They are flagged, not
	// reclassified.
	HeuristicPrefix    string
	HeuristicMinLength int
}

// Normalizer classifies and canonicalizes vendor chat identifiers
type Normalizer struct {
	ignored   map[string]struct{}
	allowed   map[string]struct{}
	prefix    string
	minLength int
}

// NewNormalizer builds a Normalizer; list entries are canonicalized first
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	n := &Normalizer{
		ignored:   make(map[string]struct{}),
		allowed:   make(map[string]struct{}),
		prefix:    cfg.HeuristicPrefix,
		minLength: cfg.HeuristicMinLength,
	}
	if n.minLength <= 0 {
		n.minLength = 16
	}
	for _, id := range cfg.IgnoredIDs {
		n.ignored[strings.TrimSpace(id)] = struct{}{}
		if c, _ := canonicalize(id); c != "" {
			n.ignored[c] = struct{}{}
		}
	}
	for _, id := range cfg.AllowedGroupIDs {
		id = strings.TrimSpace(id)
		if !strings.Contains(id, "@") {
			id += "@" + types.GroupServer
		}
		if c, _ := canonicalize(id); c != "" {
			n.allowed[c] = struct{}{}
		}
	}
	return n
}

// Classify returns the canonical id and kind for a raw JID. It never fails:
// malformed input is classified as ignored with a reason.
func (n *Normalizer) Classify(raw string) Classification {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Classification{Kind: KindIgnored, Reason: "empty chat id"}
	}
	if _, denied := n.ignored[trimmed]; denied {
		return Classification{ChatID: trimmed, Kind: KindIgnored, Reason: "chat id is deny-listed"}
	}

	canonical, kind := canonicalize(trimmed)
	c := Classification{ChatID: canonical, Kind: kind}

	switch {
	case kind == KindIgnored && canonical == "":
		c.Reason = "malformed chat id"
		return c
	case kind == KindIgnored:
		c.Reason = "broadcast or newsletter chat"
		return c
	}

	if _, denied := n.ignored[canonical]; denied {
		c.Kind = KindIgnored
		c.Reason = "chat id is deny-listed"
		return c
	}

	if kind == KindGroup {
		_, c.allowed = n.allowed[canonical]
		if !c.allowed {
			c.Reason = "group chat not allow-listed"
		}
		return c
	}

	if n.looksLikeGroup(canonical) {
		c.Suspicious = true
		log.Warn().Str("chat_id", canonical).Msg("numeric chat id looks like a group id without suffix")
	}
	return c
}

func (n *Normalizer) looksLikeGroup(id string) bool {
	if n.prefix == "" || len(id) < n.minLength {
		return false
	}
	return isDigits(id) && strings.HasPrefix(id, n.prefix)
}

// canonicalize maps a raw id to its canonical form. Individuals become bare
// numbers (device suffix dropped), LIDs keep "@lid", groups keep "@g.us".
func canonicalize(raw string) (string, ChatKind) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", KindIgnored
	}

	if !strings.Contains(raw, "@") {
		digits := strings.TrimPrefix(raw, "+")
		if i := strings.IndexByte(digits, ':'); i > 0 {
			digits = digits[:i]
		}
		if !isDigits(digits) {
			return "", KindIgnored
		}
		return digits, KindIndividual
	}

	jid, err := types.ParseJID(raw)
	if err != nil || jid.User == "" {
		if raw == types.StatusBroadcastJID.String() {
			return raw, KindIgnored
		}
		return "", KindIgnored
	}

	switch jid.Server {
	case types.GroupServer:
		return jid.User + "@" + types.GroupServer, KindGroup
	case types.DefaultUserServer, types.LegacyUserServer:
		if !isDigits(jid.User) {
			return "", KindIgnored
		}
		return jid.User, KindIndividual
	case types.HiddenUserServer:
		return jid.User + "@" + types.HiddenUserServer, KindIndividual
	case types.BroadcastServer, types.NewsletterServer:
		return jid.User + "@" + jid.Server, KindIgnored
	}
	return "", KindIgnored
}

// BarePhone returns the digits of an individual id, or "" for anything else
func BarePhone(id string) string {
	canonical, kind := canonicalize(id)
	if kind != KindIndividual || !isDigits(canonical) {
		return ""
	}
	return canonical
}

// ToJID turns a canonical chat id back into a vendor recipient
func ToJID(chatID string) string {
	if strings.Contains(chatID, "@") {
		return chatID
	}
	return chatID + "@" + types.DefaultUserServer
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
