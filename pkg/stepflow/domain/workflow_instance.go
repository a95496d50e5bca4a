package domain

import (
	"database/sql"
	"time"
)

type InstanceStatus string

const (
	StatusInProgress InstanceStatus = "IN_PROGRESS"
	StatusCompleted  InstanceStatus = "COMPLETED"
	StatusFailed     InstanceStatus = "FAILED"
	StatusOverflow   InstanceStatus = "OVERFLOW"
)

type LogStatus string

const (
	LogCompleted LogStatus = "COMPLETED"
	LogFailed    LogStatus = "FAILED"
	LogWaiting   LogStatus = "WAITING"
	LogOverflow  LogStatus = "OVERFLOW"
)

// Reserved context keys.
const (
	ContextCounter      = "counter"
	ContextCounterLimit = "counter_limit"
)

type LogEntry struct {
	Step      string    `json:"step"`
	Status    LogStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

type WorkflowInstance struct {
	ID          string
	WorkflowID  string
	Status      InstanceStatus
	CurrentStep sql.NullString
	Context     map[string]any
	Logs        []LogEntry
	Version     int64
	Created     time.Time
	Modified    time.Time
}

func (i *WorkflowInstance) IsTerminal() bool {
	return i.Status != StatusInProgress
}

func (i *WorkflowInstance) AppendLog(step string, status LogStatus, at time.Time, message string) {
	i.Logs = append(i.Logs, LogEntry{Step: step, Status: status, Timestamp: at, Message: message})
}

func (i *WorkflowInstance) SetCurrentStep(id string) {
	i.CurrentStep = sql.NullString{String: id, Valid: id != ""}
}

func (i *WorkflowInstance) ClearCurrentStep() {
	i.CurrentStep = sql.NullString{}
}
