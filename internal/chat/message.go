// Package chat provides chat event types and markup handling.
package chat

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// FlexInt64 handles JSON id fields that arrive as either string or number.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	var i int64
	if err := json.Unmarshal(data, &i); err == nil {
		*f = FlexInt64(i)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*f = 0
			return nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			*f = 0
			return nil // Silently ignore unparseable ids
		}
		*f = FlexInt64(i)
		return nil
	}

	*f = 0
	return nil
}

// Sender identifies who sent a message.
type Sender struct {
	UserID   FlexInt64 `json:"user_id"`
	Nickname string    `json:"nickname,omitempty"`
	Title    string    `json:"title,omitempty"`
}

// Event is one inbound chat event delivered by the messaging gateway.
type Event struct {
	PostType    string    `json:"post_type"`
	MessageType string    `json:"message_type"` // "group" or "private"
	NoticeType  string    `json:"notice_type,omitempty"`
	RequestType string    `json:"request_type,omitempty"`
	Flag        string    `json:"flag,omitempty"`
	SelfID      FlexInt64 `json:"self_id"`
	UserID      FlexInt64 `json:"user_id"`
	GroupID     FlexInt64 `json:"group_id,omitempty"`
	RawMessage  string    `json:"raw_message"`
	Sender      Sender    `json:"sender"`
	File        *File     `json:"file,omitempty"`

	// Message is the raw message with rich-media markup stripped and
	// escape codes decoded. Filled by Normalize; mutated by the abuse
	// filter as stop words are removed.
	Message string `json:"-"`
}

// File describes an uploaded file in a notice event.
type File struct {
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

// IsGroup reports whether the event came from a group conversation.
func (e *Event) IsGroup() bool {
	return e.MessageType == "group"
}

// IsPrivate reports whether the event came from a private conversation.
func (e *Event) IsPrivate() bool {
	return e.MessageType == "private"
}

// Mentioned reports whether the bot was at-mentioned in the raw message.
func (e *Event) Mentioned() bool {
	return strings.Contains(e.RawMessage, "[CQ:at,qq="+strconv.FormatInt(int64(e.SelfID), 10)+"]")
}

// Normalize fills Message from RawMessage.
func (e *Event) Normalize() {
	e.Message = strings.TrimSpace(Unescape(e.RawMessage))
}

var markupRe = regexp.MustCompile(`\[CQ:.+?\]`)

// escapeCodes maps the transport's escape sequences back to their symbols.
// The ampersand entity goes first so the others are not double-decoded.
var escapeCodes = [][2]string{
	{"&amp;", "&"},
	{"&#91;", "["},
	{"&#93;", "]"},
	{"&#44;", ","},
}

// Unescape strips embedded rich-media markup tokens and decodes the
// transport escape codes.
func Unescape(text string) string {
	text = markupRe.ReplaceAllString(text, "")
	for _, pair := range escapeCodes {
		text = strings.ReplaceAll(text, pair[0], pair[1])
	}
	return text
}
