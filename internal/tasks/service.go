package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/apperror"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase      = errors.New("database handle is required")
	errMissingDirectory     = errors.New("user directory is required")
	errMissingNotifications = errors.New("notification service is required")
)

const (
	opServiceNew    = "tasks.service.new"
	opCreate        = "tasks.create"
	opUpdate        = "tasks.update"
	opUpdateStatus  = "tasks.update_status"
	opDelete        = "tasks.delete"
	opList          = "tasks.list"
	opGet           = "tasks.get"
	opStats         = "tasks.stats"
	opAuthorization = "tasks.authorize"
)

const (
	msgInternal          = "Internal server error"
	msgAdminOnly         = "Only admins can manage tasks"
	msgTitleRequired     = "Title is required"
	msgInvalidPriority   = "Invalid priority"
	msgInvalidStatus     = "Invalid status"
	msgInvalidTransition = "Invalid status transition"
	msgUnknownAssignee   = "Assigned user does not exist"
	msgTaskNotFound      = "Task not found"
	msgCreateTask        = "Failed to create task"
	msgUpdateTask        = "Failed to update task"
	msgUpdateTaskStatus  = "Failed to update task status"
	msgDeleteTask        = "Failed to delete task"
)

// Directory answers the user questions the task flow depends on.
type Directory interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
	AdminUserIDs(ctx context.Context) ([]string, error)
	HasProfile(ctx context.Context, userID string) (bool, error)
	Usernames(ctx context.Context, userIDs []string) (map[string]string, error)
}

type ServiceConfig struct {
	Database      *gorm.DB
	Directory     Directory
	Notifications *NotificationService
	Clock         func() time.Time
	IDProvider    ids.Provider
	Logger        *zap.Logger
}

// Service implements task management and the notifications it triggers.
type Service struct {
	db            *gorm.DB
	directory     Directory
	notifications *NotificationService
	clock         func() time.Time
	ids           ids.Provider
	logger        *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperror.Store(opServiceNew, "missing_database", msgInternal, errMissingDatabase)
	}
	if cfg.Directory == nil {
		return nil, apperror.Store(opServiceNew, "missing_directory", msgInternal, errMissingDirectory)
	}
	if cfg.Notifications == nil {
		return nil, apperror.Store(opServiceNew, "missing_notifications", msgInternal, errMissingNotifications)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:            cfg.Database,
		directory:     cfg.Directory,
		notifications: cfg.Notifications,
		clock:         clock,
		ids:           idProvider,
		logger:        logger,
	}, nil
}

// CreateInput describes a new task. Empty optional strings mean "unset".
type CreateInput struct {
	Title       string
	Description string
	AssignedTo  string
	Priority    string
	DueDate     *time.Time
}

// Create stores a new todo task and notifies the assignee.
func (s *Service) Create(ctx context.Context, callerID string, input CreateInput) (Task, error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return Task{}, err
	}
	fields, err := s.validateFields(ctx, opCreate, input.Title, input.Priority, input.AssignedTo)
	if err != nil {
		return Task{}, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreate, "new_id", err)
		return Task{}, apperror.Store(opCreate, "new_id", msgCreateTask, err)
	}
	task := Task{
		ID:          id,
		Title:       fields.title,
		Description: optionalString(input.Description),
		AssignedTo:  fields.assignee,
		CreatedBy:   callerID,
		Priority:    fields.priority,
		DueDate:     input.DueDate,
		Status:      StatusTodo,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		s.logError(opCreate, "insert", err)
		return Task{}, apperror.Store(opCreate, "insert", msgCreateTask, err)
	}

	if task.AssignedTo != nil {
		s.notifications.Notify(ctx, *task.AssignedTo, assignmentMessage(task.Title), &task.ID)
	}
	s.logger.Info("task created", zap.String("task_id", task.ID), zap.String("created_by", callerID))
	return task, nil
}

// UpdateInput replaces every editable field of a task.
type UpdateInput struct {
	Title       string
	Description string
	AssignedTo  string
	Priority    string
	DueDate     *time.Time
}

// Update edits a task's details. Status is changed only through UpdateStatus.
func (s *Service) Update(ctx context.Context, callerID, taskID string, input UpdateInput) (Task, error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return Task{}, err
	}
	task, err := s.load(ctx, opUpdate, taskID)
	if err != nil {
		return Task{}, err
	}
	fields, err := s.validateFields(ctx, opUpdate, input.Title, input.Priority, input.AssignedTo)
	if err != nil {
		return Task{}, err
	}

	task.Title = fields.title
	task.Description = optionalString(input.Description)
	task.AssignedTo = fields.assignee
	task.Priority = fields.priority
	task.DueDate = input.DueDate
	if err := s.db.WithContext(ctx).Save(&task).Error; err != nil {
		s.logError(opUpdate, "save", err, zap.String("task_id", task.ID))
		return Task{}, apperror.Store(opUpdate, "save", msgUpdateTask, err)
	}
	return task, nil
}

// UpdateStatus moves a task along todo -> in_progress -> done. Any
// authenticated caller may call it. Completing a task created by someone else
// notifies every admin.
func (s *Service) UpdateStatus(ctx context.Context, callerID, taskID, status string) (Task, error) {
	next, ok := ParseStatus(status)
	if !ok {
		return Task{}, apperror.Validation(opUpdateStatus, "invalid_status", msgInvalidStatus)
	}
	task, err := s.load(ctx, opUpdateStatus, taskID)
	if err != nil {
		return Task{}, err
	}
	if task.Status == next {
		return task, nil
	}
	if !task.Status.CanTransitionTo(next) {
		return Task{}, apperror.Validation(opUpdateStatus, "invalid_transition", msgInvalidTransition)
	}

	updates := map[string]any{"status": next}
	var completedAt *time.Time
	if next == StatusDone {
		now := s.clock().UTC()
		completedAt = &now
	}
	updates["completed_at"] = completedAt

	result := s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND status = ?", task.ID, task.Status).
		Updates(updates)
	if result.Error != nil {
		s.logError(opUpdateStatus, "update", result.Error, zap.String("task_id", task.ID))
		return Task{}, apperror.Store(opUpdateStatus, "update", msgUpdateTaskStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		// Another caller moved the task first.
		return Task{}, apperror.Conflict(opUpdateStatus, "stale_status", msgInvalidTransition, nil)
	}
	task.Status = next
	task.CompletedAt = completedAt

	if next == StatusDone && task.CreatedBy != callerID {
		s.notifyAdmins(ctx, task)
	}
	return task, nil
}

// Delete removes a task permanently.
func (s *Service) Delete(ctx context.Context, callerID, taskID string) error {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Where("id = ?", taskID).Delete(&Task{})
	if result.Error != nil {
		s.logError(opDelete, "delete", result.Error, zap.String("task_id", taskID))
		return apperror.Store(opDelete, "delete", msgDeleteTask, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.NotFound(opDelete, "not_found", msgTaskNotFound)
	}
	s.logger.Info("task deleted", zap.String("task_id", taskID), zap.String("deleted_by", callerID))
	return nil
}

// ListOptions narrows a listing. OnlyMine restricts admins to their own assignments.
type ListOptions struct {
	OnlyMine bool
}

// List returns the tasks visible to the caller, newest first. Members only see
// tasks assigned to them.
func (s *Service) List(ctx context.Context, callerID string, options ListOptions) ([]View, error) {
	admin, err := s.directory.IsAdmin(ctx, callerID)
	if err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if options.OnlyMine || !admin {
		query = query.Where("assigned_to = ?", callerID)
	}
	var tasks []Task
	if err := query.Find(&tasks).Error; err != nil {
		s.logError(opList, "load", err)
		return nil, apperror.Store(opList, "load", msgInternal, err)
	}
	return s.withAssignees(ctx, tasks)
}

// Get returns one task. Members may only read tasks assigned to them.
func (s *Service) Get(ctx context.Context, callerID, taskID string) (View, error) {
	task, err := s.load(ctx, opGet, taskID)
	if err != nil {
		return View{}, err
	}
	if task.AssignedTo == nil || *task.AssignedTo != callerID {
		admin, err := s.directory.IsAdmin(ctx, callerID)
		if err != nil {
			return View{}, err
		}
		if !admin {
			return View{}, apperror.NotFound(opGet, "not_visible", msgTaskNotFound)
		}
	}
	views, err := s.withAssignees(ctx, []Task{task})
	if err != nil {
		return View{}, err
	}
	return views[0], nil
}

// Stats counts the caller's assigned tasks by status and overdue state.
func (s *Service) Stats(ctx context.Context, callerID string) (Stats, error) {
	var tasks []Task
	err := s.db.WithContext(ctx).
		Select("status", "due_date").
		Where("assigned_to = ?", callerID).
		Find(&tasks).Error
	if err != nil {
		s.logError(opStats, "load", err)
		return Stats{}, apperror.Store(opStats, "load", msgInternal, err)
	}
	now := s.clock()
	stats := Stats{Total: int64(len(tasks))}
	for _, task := range tasks {
		switch task.Status {
		case StatusTodo:
			stats.Todo++
		case StatusInProgress:
			stats.InProgress++
		case StatusDone:
			stats.Done++
		}
		if task.IsOverdue(now) {
			stats.Overdue++
		}
	}
	return stats, nil
}

type validatedFields struct {
	title    string
	priority Priority
	assignee *string
}

func (s *Service) validateFields(ctx context.Context, operation, title, priority, assignedTo string) (validatedFields, error) {
	fields := validatedFields{title: strings.TrimSpace(title)}
	if fields.title == "" {
		return validatedFields{}, apperror.Validation(operation, "missing_title", msgTitleRequired)
	}
	parsed, ok := ParsePriority(priority)
	if !ok {
		return validatedFields{}, apperror.Validation(operation, "invalid_priority", msgInvalidPriority)
	}
	fields.priority = parsed

	fields.assignee = optionalString(assignedTo)
	if fields.assignee != nil {
		exists, err := s.directory.HasProfile(ctx, *fields.assignee)
		if err != nil {
			return validatedFields{}, err
		}
		if !exists {
			return validatedFields{}, apperror.Validation(operation, "unknown_assignee", msgUnknownAssignee)
		}
	}
	return fields, nil
}

func (s *Service) requireAdmin(ctx context.Context, callerID string) error {
	admin, err := s.directory.IsAdmin(ctx, callerID)
	if err != nil {
		return err
	}
	if !admin {
		return apperror.Authorization(opAuthorization, "admin_required", msgAdminOnly)
	}
	return nil
}

func (s *Service) load(ctx context.Context, operation, taskID string) (Task, error) {
	var task Task
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(taskID)).Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, apperror.NotFound(operation, "not_found", msgTaskNotFound)
	}
	if err != nil {
		s.logError(operation, "load", err, zap.String("task_id", taskID))
		return Task{}, apperror.Store(operation, "load", msgInternal, err)
	}
	return task, nil
}

func (s *Service) withAssignees(ctx context.Context, tasks []Task) ([]View, error) {
	seen := make(map[string]struct{})
	var assignees []string
	for _, task := range tasks {
		if task.AssignedTo == nil {
			continue
		}
		if _, ok := seen[*task.AssignedTo]; ok {
			continue
		}
		seen[*task.AssignedTo] = struct{}{}
		assignees = append(assignees, *task.AssignedTo)
	}
	usernames, err := s.directory.Usernames(ctx, assignees)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(tasks))
	for _, task := range tasks {
		view := View{Task: task}
		if task.AssignedTo != nil {
			view.AssignedUsername = usernames[*task.AssignedTo]
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) notifyAdmins(ctx context.Context, task Task) {
	admins, err := s.directory.AdminUserIDs(ctx)
	if err != nil {
		s.logger.Warn("admin lookup for completion notice failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	message := completionMessage(task.Title)
	for _, adminID := range admins {
		s.notifications.Notify(ctx, adminID, message, &task.ID)
	}
}

func assignmentMessage(title string) string {
	return fmt.Sprintf("You have been assigned a new task: \"%s\"", title)
}

func completionMessage(title string) string {
	return fmt.Sprintf("Task \"%s\" has been completed", title)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tasks service error", attrs...)
}
