package nodes

import (
	"github.com/shaiso/Relay/internal/node"
)

// Имена встроенных типов узлов.
const (
	TypeCatch       = node.TypeCatch
	TypeStatus      = node.TypeStatus
	TypeDebug       = "debug"
	TypeTransform   = "transform"
	TypeDelay       = "delay"
	TypeHTTPRequest = "http request"
	TypeInject      = "inject"
	TypeConfig      = "config"
	TypeAMQPBroker  = "amqp-broker"
	TypeAMQPOut     = "amqp out"
)

// Register добавляет встроенные типы в r.
func Register(r *node.Registry) {
	r.Register(TypeCatch, NewCatch)
	r.Register(TypeStatus, NewStatus)
	r.Register(TypeDebug, NewDebug)
	r.Register(TypeTransform, NewTransform)
	r.Register(TypeDelay, NewDelay)
	r.Register(TypeHTTPRequest, NewHTTPRequest)
	r.Register(TypeInject, NewInject)
	r.Register(TypeConfig, NewConfig)
	r.Register(TypeAMQPBroker, NewAMQPBroker)
	r.Register(TypeAMQPOut, NewAMQPOut)
}

// DefaultRegistry создаёт реестр со всеми встроенными типами.
func DefaultRegistry() *node.Registry {
	r := node.NewRegistry()
	Register(r)
	return r
}
