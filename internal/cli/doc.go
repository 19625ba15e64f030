// Package cli реализует инструмент командной строки orderflow.
//
// # Обзор
//
// CLI — клиентская утилита для orderflow API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент: POST /start-process, GET /pedidos, GET /pedidos/stats, POST /reset.
// Ответ со статусом >= 400 возвращается как *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	status, err := client.Status()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
//
// ## Commands
//
//   - start  — запустить конвейер
//   - status — снимок состояния запуска
//   - stats  — агрегаты заказов и размеры очередей
//   - reset  — очистить очереди и заказы (--yes)
//   - watch  — опрашивать состояние до завершения (--start, --interval)
//
// Команды создаются фабричными функциями (NewStartCmd и т.д.),
// принимающими clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
