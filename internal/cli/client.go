package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// --- Response types (дублируются из api и orchestrator, CLI не импортирует internal/*) ---

// MessageResponse — ответ /start-process и /reset.
type MessageResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse — снимок состояния запуска (GET /pedidos).
type StatusResponse struct {
	RunID     *string    `json:"runId"`
	Status    string     `json:"status"`
	Error     *string    `json:"error"`
	StartedAt *time.Time `json:"startedAt"`

	Generation       GenerationStats `json:"generation"`
	HighProcessing   LaneStats       `json:"highProcessing"`
	NormalProcessing LaneStats       `json:"normalProcessing"`

	TotalTime  float64 `json:"totalTime"`
	LanePolicy string  `json:"lanePolicy"`
}

// Finished возвращает true для фаз, после которых запуск не продвигается.
func (s *StatusResponse) Finished() bool {
	switch s.Status {
	case "IDLE", "COMPLETED", "ERROR":
		return true
	default:
		return false
	}
}

// GenerationStats — итог генерации.
type GenerationStats struct {
	Duration  float64 `json:"duration"`
	Count     int     `json:"count"`
	Requested int     `json:"requested"`
	Failed    int     `json:"failed"`
}

// LaneStats — метрики линии обработки.
type LaneStats struct {
	StartTime        *time.Time `json:"startTime"`
	EndTime          *time.Time `json:"endTime"`
	Duration         float64    `json:"duration"`
	Count            int        `json:"count"`
	Items            int        `json:"items"`
	CompletedItems   int        `json:"completedItems"`
	FailedItems      int        `json:"failedItems"`
	FailedRecords    int        `json:"failedRecords"`
	ProcessedRecords int64      `json:"processedRecords"`
}

// OrderStat — количество заказов для пары (priority, status).
type OrderStat struct {
	Priority string `json:"priority"`
	Status   string `json:"status"`
	Count    int64  `json:"count"`
}

// QueueCounts — размеры очереди по состояниям.
type QueueCounts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

// StatsResponse — ответ GET /pedidos/stats.
type StatsResponse struct {
	Orders []OrderStat            `json:"orders"`
	Queues map[string]QueueCounts `json:"queues"`
}

// --- API error types ---

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ответ API со статусом >= 400.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для orderflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StartProcess запускает генерацию и обработку.
func (c *Client) StartProcess() (*MessageResponse, error) {
	var resp MessageResponse
	err := c.do(http.MethodPost, "/start-process", &resp)
	return &resp, err
}

// Status возвращает снимок состояния запуска.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	err := c.do(http.MethodGet, "/pedidos", &resp)
	return &resp, err
}

// Stats возвращает агрегаты заказов и очередей.
func (c *Client) Stats() (*StatsResponse, error) {
	var resp StatsResponse
	err := c.do(http.MethodGet, "/pedidos/stats", &resp)
	return &resp, err
}

// Reset очищает очереди и заказы.
func (c *Client) Reset() (*MessageResponse, error) {
	var resp MessageResponse
	err := c.do(http.MethodPost, "/reset", &resp)
	return &resp, err
}

// --- HTTP helpers ---

func (c *Client) do(method, path string, result any) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := checkError(resp.StatusCode, body); err != nil {
		return err
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// checkError разбирает оба формата ошибок API: {message, error} и {error: {code, message}}.
func checkError(status int, body []byte) error {
	if status < 400 {
		return nil
	}

	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}

	var mr MessageResponse
	if json.Unmarshal(body, &mr) == nil && mr.Message != "" {
		apiErr.Message = mr.Message
		apiErr.Detail = mr.Error
		return apiErr
	}

	var er errorResponse
	if json.Unmarshal(bytes.TrimSpace(body), &er) == nil && er.Error.Message != "" {
		apiErr.Message = er.Error.Code
		apiErr.Detail = er.Error.Message
	}
	return apiErr
}

// IsAPIError проверяет, что ошибка пришла от API со статусом status.
func IsAPIError(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
