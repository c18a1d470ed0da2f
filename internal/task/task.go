// Package task defines the core task domain model shared by the coordinator, queues,
// status stores and workers. It contains categories, priorities, payload schemas and
// the serialization envelope used by queue backends.
package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	Category     string
	TaskPriority int
	Task         struct {
		ID        string
		Category  Category
		Payload   Payload
		Priority  TaskPriority
		CreatedAt time.Time
	}
)

const (
	CategoryGeneration Category = "generation"
	CategoryValidation Category = "validation"
	CategoryIndexing   Category = "indexing"
)

const (
	PriorityNormal TaskPriority = iota
	PriorityUrgent
)

func Categories() []Category {
	return []Category{CategoryGeneration, CategoryValidation, CategoryIndexing}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryGeneration, CategoryValidation, CategoryIndexing:
		return true
	default:
		return false
	}
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", &SubmissionError{Reason: fmt.Sprintf("unknown category %q", s)}
	}
	return c, nil
}

func (p TaskPriority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p TaskPriority) Valid() bool {
	return p == PriorityNormal || p == PriorityUrgent
}

func ParsePriority(s string) (TaskPriority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityNormal, &SubmissionError{Reason: fmt.Sprintf("unknown priority %q", s)}
	}
}

// NewTask validates the submission and returns an immutable task ready to enqueue.
func NewTask(category Category, payload Payload, priority TaskPriority) (*Task, error) {
	if !category.Valid() {
		return nil, &SubmissionError{Reason: fmt.Sprintf("unknown category %q", category)}
	}
	if !priority.Valid() {
		return nil, &SubmissionError{Reason: fmt.Sprintf("unknown priority %d", int(priority))}
	}
	if payload == nil {
		return nil, &SubmissionError{Reason: "payload is required"}
	}
	if payload.Category() != category {
		return nil, &SubmissionError{
			Reason: fmt.Sprintf("%s payload submitted to %s category", payload.Category(), category),
		}
	}
	if err := payload.Validate(); err != nil {
		return nil, &SubmissionError{Reason: err.Error()}
	}

	return &Task{
		ID:        uuid.New().String(),
		Category:  category,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now(),
	}, nil
}

type envelope struct {
	ID        string          `json:"id"`
	Category  Category        `json:"category"`
	Priority  TaskPriority    `json:"priority"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

func (t *Task) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(envelope{
		ID:        t.ID,
		Category:  t.Category,
		Priority:  t.Priority,
		CreatedAt: t.CreatedAt,
		Payload:   payload,
	})
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	payload, err := DecodePayload(env.Category, env.Payload)
	if err != nil {
		return err
	}

	*t = Task{
		ID:        env.ID,
		Category:  env.Category,
		Payload:   payload,
		Priority:  env.Priority,
		CreatedAt: env.CreatedAt,
	}
	return nil
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func TaskFromJSON(data string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, err
	}

	return &t, nil
}
