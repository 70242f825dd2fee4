package nodes

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/node"
)

const statusTextLimit = 32

// Debug пишет сообщение (или одно его свойство) в журнал движка.
//
// Свойства:
//
//	{
//	    "complete": "payload",  // свойство сообщения; "true" — сообщение целиком
//	    "to_status": false      // дублировать короткий текст в статус узла
//	}
type Debug struct {
	*node.Base
	property string
	toStatus bool
}

// NewDebug — конструктор типа "debug".
func NewDebug(cfg node.Config) (node.Node, error) {
	props := cfg.Spec.Props
	d := &Debug{
		Base:     node.NewBase(cfg),
		property: GetString(props, "complete"),
		toStatus: GetBool(props, "to_status", false),
	}
	if d.property == "" {
		d.property = domain.MsgKeyPayload
	}
	d.OnInput(d.input)
	return d, nil
}

func (d *Debug) input(msg domain.Message) error {
	var value any = msg
	if d.property != "true" {
		value = msg[d.property]
	}

	text, err := format(value)
	if err != nil {
		return fmt.Errorf("debug: %w", err)
	}
	d.Log(text)

	if d.toStatus {
		if len(text) > statusTextLimit {
			text = text[:statusTextLimit] + "..."
		}
		d.Status(domain.StatusUpdate{Text: text, Fill: "grey", Shape: "dot"})
	}
	return nil
}

func format(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "undefined", nil
	case string:
		return v, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
