package domain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// richTextPrefix marks an encoded RichText payload embedded in a
// PlaybackJob's opaque Text field. Strings without this prefix are
// legacy plain text and decode as RichTextPlain.
const richTextPrefix = "rtx1:"

type RichTextKind string

const (
	RichTextPlain RichTextKind = "plain"
	RichTextTweet RichTextKind = "tweet"
	RichTextMedia RichTextKind = "media"
)

// TweetCard is the structured payload for a RichTextTweet blob.
type TweetCard struct {
	AuthorName   string `json:"authorName"`
	AuthorHandle string `json:"authorHandle"`
	AuthorAvatar string `json:"authorAvatar,omitempty"`
	Body         string `json:"body"`
	URL          string `json:"url,omitempty"`
}

// MediaCard is the structured payload for a RichTextMedia blob; it
// carries a legacy start offset some producers embed directly in the
// text column instead of on the job's ResumeOffsetSec field.
type MediaCard struct {
	Caption         string `json:"caption,omitempty"`
	LegacyOffsetSec int64  `json:"legacyOffsetSec,omitempty"`
}

// RichText is the tagged variant the scheduler forwards to overlays
// unchanged. Exactly one of Tweet/Media is populated depending on Kind.
type RichText struct {
	Kind  RichTextKind `json:"kind"`
	Value string       `json:"value,omitempty"`
	Tweet *TweetCard   `json:"tweet,omitempty"`
	Media *MediaCard   `json:"media,omitempty"`
}

type richTextWire struct {
	Kind  RichTextKind `json:"kind"`
	Value string       `json:"value,omitempty"`
	Tweet *TweetCard   `json:"tweet,omitempty"`
	Media *MediaCard   `json:"media,omitempty"`
}

// EncodeRichText serializes r to the text representation stored on
// PlaybackJob.Text. A plain-kind RichText with no card round-trips to
// the bare value with no prefix, so old readers that don't know about
// the tagged format still see their string.
func EncodeRichText(r RichText) (string, error) {
	if r.Kind == RichTextPlain || r.Kind == "" {
		return r.Value, nil
	}
	raw, err := json.Marshal(richTextWire{Kind: r.Kind, Value: r.Value, Tweet: r.Tweet, Media: r.Media})
	if err != nil {
		return "", err
	}
	return richTextPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeRichText is tolerant of legacy plain strings: anything not
// carrying the sentinel prefix decodes as RichTextPlain with Value set
// to the input verbatim.
func DecodeRichText(text string) (RichText, error) {
	if !strings.HasPrefix(text, richTextPrefix) {
		return RichText{Kind: RichTextPlain, Value: text}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(text, richTextPrefix))
	if err != nil {
		return RichText{}, errors.New("richtext: invalid base64 payload")
	}
	var wire richTextWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return RichText{}, errors.New("richtext: invalid json payload")
	}
	return RichText{Kind: wire.Kind, Value: wire.Value, Tweet: wire.Tweet, Media: wire.Media}, nil
}
