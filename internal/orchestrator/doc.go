// Package orchestrator управляет развёртыванием сохранённых графов.
//
// Orchestrator отвечает за:
//   - Создание Flow для каждого включённого графа из БД
//   - Глобальный граф (ID "global") с общими config-узлами и шаблонами subflow
//   - Инкрементальный redeploy: diff → Stop(changed+removed) → Update → Start(diff)
//   - Команды развёртывания из очереди deploy.commands
//   - Периодическую сверку ревизий с БД
package orchestrator
