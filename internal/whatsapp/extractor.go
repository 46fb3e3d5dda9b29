package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// descriptorFields are copied from the vendor media object. Anything else
// (thumbnails, context info) is dropped to keep conteudo small.
var descriptorFields = []string{
	"url",
	"mediaKey",
	"directPath",
	"mimetype",
	"fileSha256",
	"fileEncSha256",
	"fileLength",
	"mediaKeyTimestamp",
	"width",
	"height",
	"seconds",
	"ptt",
	"caption",
	"fileName",
	"title",
	"pageCount",
	"isAnimated",
}

// ExtractContent renders the persisted conteudo for a detected type.
// Media types always produce a JSON object under the vendor key, even when
// the vendor descriptor is malformed.
func ExtractContent(content map[string]interface{}, typ MessageType) string {
	inner := Unwrap(content)

	switch {
	case typ == TypeText:
		return Text(inner)
	case typ.IsMedia():
		return extractMedia(inner, typ)
	case typ == TypeContact, typ == TypeLocation, typ == TypePoll:
		for _, s := range structuredKeys {
			if s.typ != typ {
				continue
			}
			if obj, ok := inner[s.key]; ok {
				return mustJSON(map[string]interface{}{s.key: obj})
			}
		}
	}
	if len(inner) == 0 {
		return ""
	}
	return mustJSON(inner)
}

func extractMedia(content map[string]interface{}, typ MessageType) string {
	key := typ.ContentKey()
	raw, ok := content[key].(map[string]interface{})
	if !ok {
		log.Warn().Str("type", string(typ)).Msg("media descriptor missing or malformed")
		return mustJSON(map[string]interface{}{key: map[string]interface{}{}})
	}

	desc := make(map[string]interface{}, len(descriptorFields))
	for _, f := range descriptorFields {
		if v, ok := raw[f]; ok && v != nil {
			desc[f] = v
		}
	}
	return mustJSON(map[string]interface{}{key: desc})
}

// mustJSON never fails for decoded JSON values. A value that cannot be
// encoded is replaced by an object carrying the error.
func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode message content")
		b, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return string(b)
}

// MediaDescriptor is the typed view of a stored media conteudo
type MediaDescriptor struct {
	Type          MessageType `json:"-"`
	URL           string      `json:"url"`
	MediaKey      string      `json:"mediaKey"`
	DirectPath    string      `json:"directPath"`
	Mimetype      string      `json:"mimetype"`
	FileSha256    string      `json:"fileSha256"`
	FileEncSha256 string      `json:"fileEncSha256"`
	FileLength    int64       `json:"-"`
	Caption       string      `json:"caption"`
	FileName      string      `json:"fileName"`
	Seconds       int64       `json:"-"`
	PTT           bool        `json:"-"`
}

// DescriptorFrom reads the media descriptor straight from message content
func DescriptorFrom(content map[string]interface{}, typ MessageType) (MediaDescriptor, bool) {
	inner := Unwrap(content)
	raw, ok := inner[typ.ContentKey()].(map[string]interface{})
	if !ok {
		return MediaDescriptor{}, false
	}
	return descriptorFromMap(raw, typ), true
}

// ParseMediaContent decodes a conteudo written by ExtractContent
func ParseMediaContent(conteudo string) (MediaDescriptor, error) {
	var wrapper map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(conteudo))
	dec.UseNumber()
	if err := dec.Decode(&wrapper); err != nil {
		return MediaDescriptor{}, fmt.Errorf("media content is not valid JSON: %w", err)
	}
	for _, m := range mediaKeys {
		if raw, ok := wrapper[m.key].(map[string]interface{}); ok {
			return descriptorFromMap(raw, m.typ), nil
		}
	}
	return MediaDescriptor{}, fmt.Errorf("media content has no media descriptor")
}

func descriptorFromMap(raw map[string]interface{}, typ MessageType) MediaDescriptor {
	d := MediaDescriptor{
		Type:          typ,
		URL:           asString(raw["url"]),
		MediaKey:      asString(raw["mediaKey"]),
		DirectPath:    asString(raw["directPath"]),
		Mimetype:      asString(raw["mimetype"]),
		FileSha256:    asString(raw["fileSha256"]),
		FileEncSha256: asString(raw["fileEncSha256"]),
		Caption:       asString(raw["caption"]),
		FileName:      asString(raw["fileName"]),
	}
	d.FileLength, _ = asInt64(raw["fileLength"])
	d.Seconds, _ = asInt64(raw["seconds"])
	d.PTT, _ = asBool(raw["ptt"])
	return d
}

// Downloadable reports whether the vendor has enough to fetch the asset
func (d MediaDescriptor) Downloadable() bool {
	return d.MediaKey != "" && (d.DirectPath != "" || d.URL != "")
}
