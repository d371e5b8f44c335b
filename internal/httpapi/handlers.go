package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"homekeep/internal/habit"
	"homekeep/internal/home"
	"homekeep/internal/profile"
	"homekeep/internal/recurrence"
	"homekeep/internal/task"
)

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, task.ErrNotFound), errors.Is(err, home.ErrNotFound),
		errors.Is(err, profile.ErrNotFound), errors.Is(err, habit.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, task.ErrInvalidTask), errors.Is(err, home.ErrInvalid),
		errors.Is(err, profile.ErrInvalid), errors.Is(err, habit.ErrInvalid),
		errors.Is(err, recurrence.ErrInvalidInterval):
		status = http.StatusBadRequest
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// taskView adds the derived next due date to a task.
type taskView struct {
	task.Task
	NextDueDate *time.Time `json:"nextDueDate,omitempty"`
}

func viewOf(t task.Task) taskView {
	v := taskView{Task: t}
	if next, ok := t.NextDueDate(); ok {
		v.NextDueDate = &next
	}
	return v
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok", "time": time.Now()}
	if s.health != nil {
		for k, v := range s.health() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

// ---- homes ----

type createHomeRequest struct {
	Name      string `json:"name"`
	CreatedBy string `json:"createdBy"`
}

func (s *Server) handleCreateHome(c *gin.Context) {
	var req createHomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h, err := s.homes.Create(c.Request.Context(), req.Name, req.CreatedBy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h)
}

func (s *Server) handleGetHome(c *gin.Context) {
	h, err := s.homes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

type addMemberRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleAddMember(c *gin.Context) {
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h, err := s.homes.AddMember(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

// ---- tasks ----

func (s *Server) handleListTasks(c *gin.Context) {
	ctx := c.Request.Context()
	h, err := s.homes.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ts, err := s.tasks.ListByHomes(ctx, []string{h.ID})
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]taskView, 0, len(ts))
	for _, t := range ts {
		out = append(out, viewOf(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

type createTaskRequest struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	RoomID         string     `json:"roomId"`
	GroupID        string     `json:"groupId"`
	AssignedTo     string     `json:"assignedTo"`
	CreatedBy      string     `json:"createdBy"`
	DueDate        *time.Time `json:"dueDate"`
	RecurrenceDays *int       `json:"recurrenceDays"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	ctx := c.Request.Context()
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h, err := s.homes.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	t, err := s.tasks.Create(ctx, task.NewTask{
		HomeID:         h.ID,
		Title:          req.Title,
		Description:    req.Description,
		RoomID:         req.RoomID,
		GroupID:        req.GroupID,
		AssignedTo:     req.AssignedTo,
		CreatedBy:      req.CreatedBy,
		DueDate:        req.DueDate,
		RecurrenceDays: req.RecurrenceDays,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(t))
}

func (s *Server) handleGetTask(c *gin.Context) {
	t, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

type updateTaskRequest struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	RoomID          *string    `json:"roomId"`
	GroupID         *string    `json:"groupId"`
	AssignedTo      *string    `json:"assignedTo"`
	DueDate         *time.Time `json:"dueDate"`
	ClearDueDate    bool       `json:"clearDueDate"`
	RecurrenceDays  *int       `json:"recurrenceDays"`
	ClearRecurrence bool       `json:"clearRecurrence"`
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := s.tasks.Update(c.Request.Context(), c.Param("id"), task.Patch{
		Title:           req.Title,
		Description:     req.Description,
		RoomID:          req.RoomID,
		GroupID:         req.GroupID,
		AssignedTo:      req.AssignedTo,
		DueDate:         req.DueDate,
		ClearDueDate:    req.ClearDueDate,
		RecurrenceDays:  req.RecurrenceDays,
		ClearRecurrence: req.ClearRecurrence,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.tasks.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setStatusRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
}

func (s *Server) handleSetStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := task.ParseStatus(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	t, err := s.tasks.SetStatus(c.Request.Context(), c.Param("id"), st, req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

// ---- habits ----

func (s *Server) handleListHabits(c *gin.Context) {
	ctx := c.Request.Context()
	h, err := s.homes.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	hs, err := s.habits.ListByHome(ctx, h.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habits": hs})
}

type createHabitRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	RoomID      string `json:"roomId"`
	GroupID     string `json:"groupId"`
	CreatedBy   string `json:"createdBy"`
}

func (s *Server) handleCreateHabit(c *gin.Context) {
	ctx := c.Request.Context()
	var req createHabitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h, err := s.homes.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	created, err := s.habits.Create(ctx, habit.NewHabit{
		HomeID:      h.ID,
		Title:       req.Title,
		Description: req.Description,
		RoomID:      req.RoomID,
		GroupID:     req.GroupID,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUserHabits(c *gin.Context) {
	hs, err := s.habits.ListByUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habits": hs})
}

func (s *Server) handleGetHabit(c *gin.Context) {
	h, err := s.habits.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

type updateHabitRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	RoomID      *string `json:"roomId"`
	GroupID     *string `json:"groupId"`
}

func (s *Server) handleUpdateHabit(c *gin.Context) {
	var req updateHabitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h, err := s.habits.Update(c.Request.Context(), c.Param("id"), habit.Patch{
		Title:       req.Title,
		Description: req.Description,
		RoomID:      req.RoomID,
		GroupID:     req.GroupID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleDeleteHabit(c *gin.Context) {
	if err := s.habits.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type completeHabitRequest struct {
	CompletedBy string `json:"completedBy"`
}

func (s *Server) handleCompleteHabit(c *gin.Context) {
	var req completeHabitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	done, err := s.habits.Complete(c.Request.Context(), c.Param("id"), req.CompletedBy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, done)
}

func (s *Server) handleHabitCompletions(c *gin.Context) {
	cs, err := s.habits.Completions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completions": cs})
}

// handleLastHabitCompletion answers 204 when the habit was never done.
func (s *Server) handleLastHabitCompletion(c *gin.Context) {
	last, ok, err := s.habits.LastCompletion(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, last)
}

// ---- users ----

type upsertUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL"`
}

func (s *Server) handleUpsertUser(c *gin.Context) {
	var req upsertUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := s.users.Upsert(c.Request.Context(), profile.User{
		ID:       c.Param("id"),
		Email:    req.Email,
		Name:     req.Name,
		PhotoURL: req.PhotoURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) handleGetUser(c *gin.Context) {
	u, err := s.users.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// ---- sweep ----

type sweepRequest struct {
	HomeIDs []string `json:"homeIds"`
}

func (s *Server) handleSweep(c *gin.Context) {
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rep, err := s.tasks.Sweep(c.Request.Context(), req.HomeIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// handleUserSweep sweeps every home the user belongs to.
func (s *Server) handleUserSweep(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := s.homes.HomeIDsFor(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	rep, err := s.tasks.Sweep(ctx, ids)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
