package whatsapp

import "testing"

func TestClassify(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{
		IgnoredIDs:         []string{"5511888888888"},
		AllowedGroupIDs:    []string{"120363000000000002"},
		HeuristicPrefix:    "120363",
		HeuristicMinLength: 16,
	})

	tests := []struct {
		name        string
		raw         string
		wantID      string
		wantKind    ChatKind
		persistable bool
		suspicious  bool
	}{
		{"individual jid", "5511999999999@s.whatsapp.net", "5511999999999", KindIndividual, true, false},
		{"legacy suffix and spaces", "  5511999999999@c.us ", "5511999999999", KindIndividual, true, false},
		{"device suffix", "5511999999999:12@s.whatsapp.net", "5511999999999", KindIndividual, true, false},
		{"bare number", "5511999999999", "5511999999999", KindIndividual, true, false},
		{"plus prefix", "+5511999999999", "5511999999999", KindIndividual, true, false},
		{"lid", "214748364712345@lid", "214748364712345@lid", KindIndividual, true, false},
		{"group not allowed", "120363000000000001@g.us", "120363000000000001@g.us", KindGroup, false, false},
		{"group allowed", "120363000000000002@g.us", "120363000000000002@g.us", KindGroup, true, false},
		{"numeric group lookalike", "1203630000000000019", "1203630000000000019", KindIndividual, true, true},
		{"long number other prefix", "9999990000000000019", "9999990000000000019", KindIndividual, true, false},
		{"status broadcast", "status@broadcast", "status@broadcast", KindIgnored, false, false},
		{"newsletter", "120363111111111111@newsletter", "120363111111111111@newsletter", KindIgnored, false, false},
		{"deny list bare", "5511888888888", "5511888888888", KindIgnored, false, false},
		{"deny list jid", "5511888888888@s.whatsapp.net", "5511888888888", KindIgnored, false, false},
		{"empty", "   ", "", KindIgnored, false, false},
		{"garbage", "not-a-jid", "", KindIgnored, false, false},
		{"non numeric user", "john@s.whatsapp.net", "", KindIgnored, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Classify(tt.raw)
			if got.ChatID != tt.wantID {
				t.Errorf("ChatID = %q, want %q", got.ChatID, tt.wantID)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", got.Kind, tt.wantKind)
			}
			if got.Persistable() != tt.persistable {
				t.Errorf("Persistable = %v, want %v", got.Persistable(), tt.persistable)
			}
			if got.Suspicious != tt.suspicious {
				t.Errorf("Suspicious = %v, want %v", got.Suspicious, tt.suspicious)
			}
			if got.Kind == KindIgnored && got.Reason == "" {
				t.Error("ignored ids must carry a reason")
			}
		})
	}
}

func TestGroupSuffixIsAlwaysGroup(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{})
	for _, raw := range []string{"123@g.us", "5511999999999@g.us", " 120363999999999999@g.us"} {
		c := n.Classify(raw)
		if !c.IsGroup() {
			t.Errorf("%q: expected group, got %s", raw, c.Kind)
		}
		if c.Persistable() {
			t.Errorf("%q: group without allow-list entry must not be persisted", raw)
		}
	}
}

func TestBarePhone(t *testing.T) {
	cases := map[string]string{
		"5511999999999@s.whatsapp.net": "5511999999999",
		"5511999999999":                "5511999999999",
		"120363000000000001@g.us":      "",
		"abc@lid":                      "",
		"":                             "",
	}
	for in, want := range cases {
		if got := BarePhone(in); got != want {
			t.Errorf("BarePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToJID(t *testing.T) {
	if got := ToJID("5511999999999"); got != "5511999999999@s.whatsapp.net" {
		t.Errorf("unexpected jid %s", got)
	}
	if got := ToJID("120363000000000001@g.us"); got != "120363000000000001@g.us" {
		t.Errorf("group ids must pass through, got %s", got)
	}
}
