// Package nodes содержит встроенные типы узлов.
//
// Каждый тип — конструктор node.Constructor, регистрируемый в
// node.Registry под своим именем:
//
//	| Тип          | Назначение                                       |
//	|--------------|--------------------------------------------------|
//	| catch        | принимает ошибки узлов своего scope              |
//	| status       | принимает статусы узлов своего scope             |
//	| debug        | пишет сообщение в журнал движка                  |
//	| transform    | задаёт свойства сообщения из Go templates        |
//	| delay        | задерживает сообщения                            |
//	| http request | выполняет HTTP запрос                            |
//	| inject       | порождает сообщения по cron или один раз         |
//	| config       | общие значения для других узлов                  |
//	| amqp-broker  | подключение к RabbitMQ (config-узел)             |
//	| amqp out     | публикует msg.payload в RabbitMQ                 |
//
// Свойства узла приходят в NodeSpec.Props уже после подстановки
// переменных окружения ("$(NAME)"). Ссылки на config-узлы — в
// NodeSpec.Refs; узел находит их через node.Resolve.
package nodes
