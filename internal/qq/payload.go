package qq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"strconv"
)

// Message types of the v2 send APIs.
const (
	MsgTypeText     = 0
	MsgTypeMarkdown = 2
	MsgTypeArk      = 3
	MsgTypeEmbed    = 4
	MsgTypeMedia    = 7
)

// Rich-media file types for UploadMedia.
const (
	FileTypeImage = 1
	FileTypeVideo = 2
	FileTypeVoice = 3
	FileTypeFile  = 4
)

// PayloadKind discriminates the two wire encodings of a message body.
type PayloadKind int

const (
	PayloadJSON PayloadKind = iota
	PayloadMultipart
)

func (k PayloadKind) String() string {
	if k == PayloadMultipart {
		return "multipart"
	}
	return "json"
}

// FormFile is the binary part of a multipart payload.
type FormFile struct {
	Field string
	Name  string
	Data  []byte
}

// PassiveRef binds an outgoing message to the inbound message or event it
// answers. Wakeup is only valid for C2C and excludes both ids.
type PassiveRef struct {
	MsgID   string
	EventID string
	Wakeup  bool
}

// Empty reports whether the ref carries nothing to bind.
func (r PassiveRef) Empty() bool { return r.MsgID == "" && r.EventID == "" && !r.Wakeup }

// Payload is one message body: either a JSON object or a multipart form
// with a single file part.
type Payload struct {
	kind   PayloadKind
	body   map[string]any
	fields map[string]string
	file   *FormFile
}

// JSONPayload wraps body as a JSON payload.
func JSONPayload(body map[string]any) Payload {
	if body == nil {
		body = map[string]any{}
	}
	return Payload{kind: PayloadJSON, body: body}
}

// MultipartPayload builds a form payload carrying file.
func MultipartPayload(fields map[string]string, file FormFile) Payload {
	if fields == nil {
		fields = map[string]string{}
	}
	return Payload{kind: PayloadMultipart, fields: fields, file: &file}
}

func (p Payload) Kind() PayloadKind { return p.kind }

// File returns the binary part of a multipart payload.
func (p Payload) File() (FormFile, bool) {
	if p.file == nil {
		return FormFile{}, false
	}
	return *p.file, true
}

// Get returns a field of the payload. Multipart fields are strings.
func (p Payload) Get(key string) (any, bool) {
	if p.kind == PayloadMultipart {
		v, ok := p.fields[key]
		return v, ok
	}
	v, ok := p.body[key]
	return v, ok
}

// Set stores a field. Non-string values in multipart payloads are JSON-encoded.
func (p *Payload) Set(key string, v any) {
	if p.kind == PayloadJSON {
		p.body[key] = v
		return
	}
	switch x := v.(type) {
	case string:
		p.fields[key] = x
	case int:
		p.fields[key] = strconv.Itoa(x)
	case bool:
		p.fields[key] = strconv.FormatBool(x)
	default:
		raw, _ := json.Marshal(x)
		p.fields[key] = string(raw)
	}
}

// Delete removes a field.
func (p *Payload) Delete(key string) {
	if p.kind == PayloadJSON {
		delete(p.body, key)
		return
	}
	delete(p.fields, key)
}

// BindPassive applies ref to the payload. A seq of zero leaves msg_seq unset.
func (p *Payload) BindPassive(ref PassiveRef, seq int) {
	switch {
	case ref.Wakeup:
		p.Delete("msg_id")
		p.Delete("event_id")
		p.Set("is_wakeup", true)
	case ref.MsgID != "":
		p.Delete("event_id")
		p.Set("msg_id", ref.MsgID)
	case ref.EventID != "":
		p.Delete("msg_id")
		p.Set("event_id", ref.EventID)
	}
	if seq > 0 {
		p.Set("msg_seq", seq)
	}
}

// Encode serialises the payload and returns its content type.
func (p Payload) Encode() (contentType string, body []byte, err error) {
	if p.kind == PayloadJSON {
		body, err = json.Marshal(p.body)
		return "application/json", body, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range p.fields {
		if err := w.WriteField(k, v); err != nil {
			return "", nil, err
		}
	}
	if p.file != nil {
		part, err := w.CreateFormFile(p.file.Field, p.file.Name)
		if err != nil {
			return "", nil, err
		}
		if _, err := part.Write(p.file.Data); err != nil {
			return "", nil, err
		}
	}
	if err := w.Close(); err != nil {
		return "", nil, err
	}
	return w.FormDataContentType(), buf.Bytes(), nil
}

func (p Payload) String() string {
	if p.kind == PayloadJSON {
		raw, _ := json.Marshal(p.body)
		return string(raw)
	}
	name := ""
	if p.file != nil {
		name = fmt.Sprintf(" %s=%s(%d bytes)", p.file.Field, p.file.Name, len(p.file.Data))
	}
	return fmt.Sprintf("multipart%v%s", p.fields, name)
}
