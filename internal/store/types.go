package store

import (
	"encoding/json"
	"time"
)

// User is an account that can authenticate against the API.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// Space groups tasks, locations and links of one team or workspace.
type Space struct {
	ID        int64           `json:"id"`
	Name      string          `json:"space_name"`
	Settings  json.RawMessage `json:"space_settings"`
	Users     []int64         `json:"space_users"`
	CreatedAt time.Time       `json:"created_at"`
}

// Status is a task state; its settings may force progress on assignment.
type Status struct {
	ID          int64           `json:"id"`
	Name        string          `json:"status_name"`
	Description string          `json:"status_description"`
	Settings    json.RawMessage `json:"status_settings"`
}

type Category struct {
	ID          int64           `json:"id"`
	Name        string          `json:"category_name"`
	Description string          `json:"category_description"`
	Settings    json.RawMessage `json:"category_settings"`
}

type Location struct {
	ID          int64  `json:"id"`
	Name        string `json:"location_name"`
	Description string `json:"location_description"`
	Address     string `json:"location_address"`
	SpaceID     int64  `json:"location_space"`
}

type Link struct {
	ID          int64  `json:"id"`
	Title       string `json:"link_title"`
	Description string `json:"link_description"`
	URL         string `json:"link_url"`
	SpaceID     int64  `json:"link_space"`
}

// File is the metadata of an uploaded document; the bytes live elsewhere.
type File struct {
	ID          int64  `json:"id"`
	Name        string `json:"file_name"`
	Description string `json:"file_description"`
	Upload      string `json:"file_upload"`
	Size        int64  `json:"file_size"`
}

// TaskLink attaches a Link to a Task with a task-specific description.
type TaskLink struct {
	ID          int64  `json:"id"`
	TaskID      int64  `json:"task"`
	LinkID      int64  `json:"link"`
	Description string `json:"description"`
}

// Task is the central work item.
type Task struct {
	ID                   int64           `json:"id"`
	Name                 string          `json:"task_name"`
	Description          string          `json:"description"`
	Priority             int             `json:"priority"`
	StatusID             *int64          `json:"status"`
	Progress             int             `json:"progress"`
	ProgressDependencies int             `json:"progress_dependencies"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	StartDate            *time.Time      `json:"start_date"`
	EndDate              *time.Time      `json:"end_date"`
	Deadline             *time.Time      `json:"deadline"`
	DeletedAt            *time.Time      `json:"deleted_at"`
	Dependencies         []int64         `json:"dependencies"`
	Categories           []int64         `json:"categories"`
	LocationID           *int64          `json:"location"`
	AuthorID             int64           `json:"author"`
	LastEditorID         *int64          `json:"last_editor"`
	AssigneeID           *int64          `json:"assignee"`
	Complexity           int             `json:"complexity"`
	RiskLevel            string          `json:"risk_level"`
	IsReady              bool            `json:"is_ready"`
	IsRecurring          bool            `json:"is_recurring"`
	NeedsApproval        bool            `json:"needs_approval"`
	IsTemplate           bool            `json:"is_template"`
	IsDeleted            bool            `json:"is_deleted"`
	EstimatedDuration    *int            `json:"estimated_duration"`
	ActualDuration       *int            `json:"actual_duration"`
	QualityRating        *int            `json:"quality_rating"`
	Budget               *float64        `json:"budget"`
	CancelReason         string          `json:"cancel_reason"`
	TimeIntervals        json.RawMessage `json:"time_intervals"`
	Reminders            json.RawMessage `json:"reminders"`
	Notifications        json.RawMessage `json:"notifications"`
	RepeatInterval       *int            `json:"repeat_interval"`
	NextActivation       *time.Time      `json:"next_activation"`
	Tags                 []string        `json:"tags"`
	Links                []int64         `json:"links"`
	SpaceID              int64           `json:"task_space"`
}

// HistoryEntry is one audit record of an entity change.
type HistoryEntry struct {
	ID        int64           `json:"id"`
	Entity    string          `json:"entity"`
	EntityID  int64           `json:"entity_id"`
	Action    string          `json:"action"`
	ActorID   *int64          `json:"actor"`
	Snapshot  json.RawMessage `json:"snapshot"`
	CreatedAt time.Time       `json:"created_at"`
}

// History actions, following the +/~/- convention of audit trails.
const (
	ActionCreate = "+"
	ActionUpdate = "~"
	ActionDelete = "-"
)

// ProgressUpdate carries the derived dependency fields for one task.
type ProgressUpdate struct {
	TaskID               int64
	ProgressDependencies int
	IsReady              bool
}

// TaskFilter narrows ListTasks. Zero values mean "no constraint".
type TaskFilter struct {
	MemberID int64

	SpaceID       *int64
	StatusID      *int64
	AuthorID      *int64
	AssigneeID    *int64
	LocationID    *int64
	IsReady       *bool
	IsRecurring   *bool
	NeedsApproval *bool
	IsTemplate    *bool
	RiskLevel     string

	MinPriority   *int
	MaxPriority   *int
	MinProgress   *int
	MaxProgress   *int
	MinComplexity *int
	MaxComplexity *int

	StartAfter     *time.Time
	StartBefore    *time.Time
	EndAfter       *time.Time
	EndBefore      *time.Time
	DeadlineAfter  *time.Time
	DeadlineBefore *time.Time

	Search         string
	Ordering       string
	Limit          int
	Offset         int
	IncludeDeleted bool
}

// ReminderDelivery records that a reminder went out, so it is sent once.
type ReminderDelivery struct {
	TaskID     int64
	ReminderAt time.Time
	Method     string
}
