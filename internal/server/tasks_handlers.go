package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/tasks"
	"github.com/gin-gonic/gin"
)

type taskPayload struct {
	Title       string     `json:"title" binding:"required,max=500"`
	Description string     `json:"description" binding:"max=5000"`
	AssignedTo  string     `json:"assigned_to"`
	Priority    string     `json:"priority" binding:"omitempty,taskpriority"`
	DueDate     *time.Time `json:"due_date"`
}

type taskStatusPayload struct {
	Status string `json:"status" binding:"required,taskstatus"`
}

type taskResponsePayload struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      *string    `json:"description"`
	AssignedTo       *string    `json:"assigned_to"`
	AssignedUsername string     `json:"assigned_username,omitempty"`
	CreatedBy        string     `json:"created_by"`
	Priority         string     `json:"priority"`
	DueDate          *time.Time `json:"due_date"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

type statsResponsePayload struct {
	Total      int64 `json:"total"`
	Todo       int64 `json:"todo"`
	InProgress int64 `json:"in_progress"`
	Done       int64 `json:"done"`
	Overdue    int64 `json:"overdue"`
}

func newTaskResponse(task tasks.Task, assignedUsername string) taskResponsePayload {
	return taskResponsePayload{
		ID:               task.ID,
		Title:            task.Title,
		Description:      task.Description,
		AssignedTo:       task.AssignedTo,
		AssignedUsername: assignedUsername,
		CreatedBy:        task.CreatedBy,
		Priority:         string(task.Priority),
		DueDate:          task.DueDate,
		Status:           string(task.Status),
		CreatedAt:        task.CreatedAt,
		CompletedAt:      task.CompletedAt,
	}
}

func (h *httpHandler) handleListTasks(c *gin.Context) {
	onlyMine, _ := strconv.ParseBool(c.Query("mine"))
	views, err := h.tasks.List(c.Request.Context(), c.GetString(userIDContextKey), tasks.ListOptions{OnlyMine: onlyMine})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response := make([]taskResponsePayload, 0, len(views))
	for _, view := range views {
		response = append(response, newTaskResponse(view.Task, view.AssignedUsername))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": response})
}

func (h *httpHandler) handleCreateTask(c *gin.Context) {
	var request taskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, err)
		return
	}
	task, err := h.tasks.Create(c.Request.Context(), c.GetString(userIDContextKey), tasks.CreateInput{
		Title:       request.Title,
		Description: request.Description,
		AssignedTo:  request.AssignedTo,
		Priority:    request.Priority,
		DueDate:     request.DueDate,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": newTaskResponse(task, "")})
}

func (h *httpHandler) handleTaskStats(c *gin.Context) {
	stats, err := h.tasks.Stats(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": statsResponsePayload(stats)})
}

func (h *httpHandler) handleGetTask(c *gin.Context) {
	view, err := h.tasks.Get(c.Request.Context(), c.GetString(userIDContextKey), c.Param("taskId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": newTaskResponse(view.Task, view.AssignedUsername)})
}

func (h *httpHandler) handleUpdateTask(c *gin.Context) {
	var request taskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, err)
		return
	}
	task, err := h.tasks.Update(c.Request.Context(), c.GetString(userIDContextKey), c.Param("taskId"), tasks.UpdateInput{
		Title:       request.Title,
		Description: request.Description,
		AssignedTo:  request.AssignedTo,
		Priority:    request.Priority,
		DueDate:     request.DueDate,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": newTaskResponse(task, "")})
}

func (h *httpHandler) handleUpdateTaskStatus(c *gin.Context) {
	var request taskStatusPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeBindError(c, err)
		return
	}
	task, err := h.tasks.UpdateStatus(c.Request.Context(), c.GetString(userIDContextKey), c.Param("taskId"), request.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": newTaskResponse(task, "")})
}

func (h *httpHandler) handleDeleteTask(c *gin.Context) {
	if err := h.tasks.Delete(c.Request.Context(), c.GetString(userIDContextKey), c.Param("taskId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
