// Package engine содержит статическую часть движка: всё, что работает
// с GraphDefinition до создания узлов.
//
// Включает:
//   - parser.go   — парсинг GraphDefinition из JSON и валидация
//   - refs.go     — граф ссылок между config-узлами (порядок Кана, поиск циклов)
//   - env.go      — подстановка переменных окружения в свойства узлов
//   - template.go — рендеринг Go templates ({{ .Msg.payload }})
//   - diff.go     — вычисление изменений между версиями графа для redeploy
//
// Engine не создаёт узлы и не хранит состояние: этим занимается пакет flow.
package engine
