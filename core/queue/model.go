package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskType 任务类型，封闭枚举
type TaskType uint8

const (
	TaskVideoProcessing TaskType = iota + 1 // 视频上传后处理
	TaskVideoAnalysis                       // 视频分析结果落地
	TaskChatResponse                        // 异步对话回复
)

// TaskTypes 全部任务类型
var TaskTypes = []TaskType{TaskVideoProcessing, TaskVideoAnalysis, TaskChatResponse}

func (t TaskType) String() string {
	switch t {
	case TaskVideoProcessing:
		return "video_processing"
	case TaskVideoAnalysis:
		return "video_analysis"
	case TaskChatResponse:
		return "chat_response"
	}
	return fmt.Sprintf("TaskType(%d)", uint8(t))
}

func (t TaskType) Valid() bool {
	return t >= TaskVideoProcessing && t <= TaskChatResponse
}

// ParseTaskType 解析任务类型名
func ParseTaskType(s string) (TaskType, error) {
	for _, t := range TaskTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown task type %q", s)
}

func (t TaskType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid task type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *TaskType) UnmarshalText(b []byte) (err error) {
	*t, err = ParseTaskType(string(b))
	return err
}

// Priority 任务优先级，封闭枚举
type Priority uint8

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

// Priorities 按轮询顺序（高到低）排列
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("Priority(%d)", uint8(p))
}

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

func ParsePriority(s string) (Priority, error) {
	for _, p := range Priorities {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) (err error) {
	*p, err = ParsePriority(string(b))
	return err
}

// Status 任务状态，封闭枚举
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusDead:
		return "dead"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	if s < StatusPending || s > StatusDead {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for v := StatusPending; v <= StatusDead; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Task 任务记录。队列成员与 result:<id> 记录使用同一结构
type Task struct {
	ID          string          `json:"id"`
	Type        TaskType        `json:"type"`
	Priority    Priority        `json:"priority"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Retries     int             `json:"retries"`
	LastRetryAt *time.Time      `json:"last_retry_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Decode 把负载解析到 v
func (t *Task) Decode(v any) error {
	return json.Unmarshal(t.Payload, v)
}

// Partition 队列分区
type Partition struct {
	Priority Priority
	Type     TaskType
}

// Stats 队列统计
type Stats struct {
	Pending      map[string]int64 `json:"pending"`
	DeadLetters  map[string]int64 `json:"dead_letters"`
	TotalPending int64            `json:"total_pending"`
	TotalDead    int64            `json:"total_dead"`
	Processed    int64            `json:"processed"`
	Failed       int64            `json:"failed"`
}
