package domain

import "maps"

// Ключи сообщения, которые заполняет сам движок.
const (
	MsgKeyError     = "error"
	MsgKeyPrevError = "_error"
	MsgKeyStatus    = "status"
	MsgKeyPayload   = "payload"
	MsgKeyTopic     = "topic"
	MsgKeyID        = "_msgid"
)

// Message — сообщение, передаваемое между узлами.
//
// Сообщение — произвольная структура, как в исходном JSON-формате flow.
// При отправке в несколько wires все получатели, кроме первого, получают копию.
type Message map[string]any

// Clone возвращает глубокую копию сообщения.
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// Error возвращает запись об ошибке, если сообщение её содержит.
func (m Message) Error() (*ErrorInfo, bool) {
	info, ok := m[MsgKeyError].(*ErrorInfo)
	return info, ok && info != nil
}

// Payload возвращает msg.payload.
func (m Message) Payload() any {
	return m[MsgKeyPayload]
}

// Source — узел-источник ошибки или статуса.
type Source struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	Count int    `json:"count,omitempty"`
}

// ErrorInfo — запись об ошибке, которую получает catch-узел в msg.error.
type ErrorInfo struct {
	Message string `json:"message"`
	Source  Source `json:"source"`
}

// StatusInfo — запись о статусе, которую получает status-узел в msg.status.
type StatusInfo struct {
	Text   string `json:"text"`
	Source Source `json:"source"`
}

// StatusUpdate — статус, публикуемый узлом (например, "connected").
type StatusUpdate struct {
	Text  string `json:"text,omitempty"`
	Fill  string `json:"fill,omitempty"`
	Shape string `json:"shape,omitempty"`
}

// CloneValue рекурсивно копирует значение из сообщения или свойств.
// Скалярные значения возвращаются как есть.
func CloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		if v == nil {
			return v
		}
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = CloneValue(val)
		}
		return out
	case Message:
		return v.Clone()
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = CloneValue(val)
		}
		return out
	case []string:
		if v == nil {
			return v
		}
		return append([]string(nil), v...)
	case map[string]string:
		return maps.Clone(v)
	case []byte:
		if v == nil {
			return v
		}
		return append([]byte(nil), v...)
	case *ErrorInfo:
		if v == nil {
			return v
		}
		cp := *v
		return &cp
	default:
		return value
	}
}
