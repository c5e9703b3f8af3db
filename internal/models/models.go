package models

import (
	"time"
)

// ProjectStatus represents project lifecycle status
type ProjectStatus string

const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
)

// Priority is shared by projects and tasks
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium" // default
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// TaskStatus is the kanban column a task sits in
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
)

// BoardColumns lists the kanban columns in display order.
var BoardColumns = []TaskStatus{TaskTodo, TaskInProgress, TaskReview, TaskDone}

// SprintStatus represents sprint lifecycle status
type SprintStatus string

const (
	SprintPlanned   SprintStatus = "planned"
	SprintActive    SprintStatus = "active"
	SprintCompleted SprintStatus = "completed"
)

// Role is a user's access level within a project
type Role string

const (
	RoleOwner  Role = "owner"
	RoleWriter Role = "writer"
	RoleReader Role = "reader"
)

// User is a registered account
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Project is a tracked unit of work owned by a user
type Project struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      ProjectStatus `json:"status"`
	Priority    Priority      `json:"priority"`
	TechStack   []string      `json:"tech_stack"`
	GitHubURL   string        `json:"github_url,omitempty"`
	LiveURL     string        `json:"live_url,omitempty"`
	StartDate   *time.Time    `json:"start_date,omitempty"`
	TargetDate  *time.Time    `json:"target_date,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ArchivedAt  *time.Time    `json:"archived_at,omitempty"`
}

// Archived reports whether the project is in the History view.
func (p *Project) Archived() bool {
	return p.ArchivedAt != nil
}

// Task is a unit of work on a project's kanban board
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	SprintID    string     `json:"sprint_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	Position    int        `json:"position"`
	Labels      []string   `json:"labels"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Overdue reports whether the task is past its due date and not done.
func (t *Task) Overdue(now time.Time) bool {
	if t.DueDate == nil || t.Status == TaskDone {
		return false
	}
	return t.DueDate.Before(startOfDay(now))
}

// Sprint is a time-boxed grouping of tasks within a project
type Sprint struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	Name        string       `json:"name"`
	Goal        string       `json:"goal"`
	Status      SprintStatus `json:"status"`
	StartDate   *time.Time   `json:"start_date,omitempty"`
	EndDate     *time.Time   `json:"end_date,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SprintProgress summarizes task completion within a sprint
type SprintProgress struct {
	Total   int     `json:"total"`
	Done    int     `json:"done"`
	Percent float64 `json:"percent"`
}

// Comment is a log entry on a task
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Note is a research note, independent of projects
type Note struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteTask is a checklist item belonging to a research note
type NoteTask struct {
	ID        string    `json:"id"`
	NoteID    string    `json:"note_id"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment is a file stored alongside a research note
type Attachment struct {
	ID          string    `json:"id"`
	NoteID      string    `json:"note_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	StorageKey  string    `json:"-"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Dashboard is the per-user overview
type Dashboard struct {
	ProjectsByStatus map[ProjectStatus]int `json:"projects_by_status"`
	ArchivedProjects int                   `json:"archived_projects"`
	TasksByStatus    map[TaskStatus]int    `json:"tasks_by_status"`
	OverdueTasks     int                   `json:"overdue_tasks"`
	DueThisWeek      int                   `json:"due_this_week"`
	ActiveSprints    int                   `json:"active_sprints"`
	Notes            int                   `json:"notes"`
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
