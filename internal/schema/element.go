// Package schema is the host-side message model: elements, targets and the
// client/host contracts the adapter registers through.
package schema

import (
	"maps"
	"slices"
)

// ElementType tags one message element.
type ElementType string

const (
	ElemText     ElementType = "text"
	ElemAt       ElementType = "at"
	ElemImage    ElementType = "image"
	ElemFace     ElementType = "face"
	ElemReply    ElementType = "reply"
	ElemPassive  ElementType = "passive"
	ElemButton   ElementType = "button"
	ElemMarkdown ElementType = "markdown"
	ElemVideo    ElementType = "video"
	ElemAudio    ElementType = "audio"
	ElemFile     ElementType = "file"
)

// Element is one item of an outgoing message.
//
// Which fields are meaningful depends on Type:
//   - text, markdown: Text
//   - at, face, reply: ID
//   - passive: ID (message id, or event id when Event is set), Seq, Wakeup
//   - image, video, audio, file: File (URL, file://, base64:// or local path)
//   - button, markdown templates: Data
type Element struct {
	Type   ElementType
	Text   string
	ID     string
	Seq    int
	File   string
	Event  bool
	Wakeup bool
	Data   map[string]any
}

func Text(s string) Element { return Element{Type: ElemText, Text: s} }

// At mentions a user by id.
func At(userID string) Element { return Element{Type: ElemAt, ID: userID} }

func Image(src string) Element { return Element{Type: ElemImage, File: src} }

func Face(id string) Element { return Element{Type: ElemFace, ID: id} }

// Reply quotes the message with the given id.
func Reply(messageID string) Element { return Element{Type: ElemReply, ID: messageID} }

// Passive binds the send to an inbound message. seq, when non-zero, is the
// base of the msg_seq numbering.
func Passive(messageID string, seq int) Element {
	return Element{Type: ElemPassive, ID: messageID, Seq: seq}
}

// EventPassive binds the send to an inbound event instead of a message.
func EventPassive(eventID string) Element {
	return Element{Type: ElemPassive, ID: eventID, Event: true}
}

// Wakeup marks a C2C push that re-engages a user without a passive id.
func Wakeup() Element { return Element{Type: ElemPassive, Wakeup: true} }

// Button attaches a keyboard. keyboard is either {"id": templateID} or
// {"content": {"rows": [...]}}.
func Button(keyboard map[string]any) Element {
	return Element{Type: ElemButton, Data: keyboard}
}

// KeyboardTemplate attaches the keyboard template with the given id.
func KeyboardTemplate(id string) Element {
	return Button(map[string]any{"id": id})
}

// Markdown sends native markdown content.
func Markdown(content string) Element { return Element{Type: ElemMarkdown, Text: content} }

// MarkdownTemplate sends a markdown template with its parameters.
func MarkdownTemplate(templateID string, params map[string][]string) Element {
	list := make([]map[string]any, 0, len(params))
	for _, k := range slices.Sorted(maps.Keys(params)) {
		list = append(list, map[string]any{"key": k, "values": params[k]})
	}
	return Element{Type: ElemMarkdown, Data: map[string]any{
		"custom_template_id": templateID,
		"params":             list,
	}}
}

func Video(src string) Element { return Element{Type: ElemVideo, File: src} }

func Audio(src string) Element { return Element{Type: ElemAudio, File: src} }

// File is accepted by the model but no QQ surface can deliver it.
func File(src string) Element { return Element{Type: ElemFile, File: src} }
