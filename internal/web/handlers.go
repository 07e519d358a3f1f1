package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taskdeck/taskdeck/internal/plan"
	"github.com/taskdeck/taskdeck/internal/task"
)

// errorBody is the uniform error payload.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// fail maps an engine error to an HTTP status plus the structured body.
func fail(gc *gin.Context, err error) {
	code := task.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case task.CodeNotFound:
		status = http.StatusNotFound
	case task.CodeInvalidInput:
		status = http.StatusBadRequest
	case task.CodePermissionDenied:
		status = http.StatusForbidden
	case task.CodeTaskBlocked, task.CodeUncompletedChildren, task.CodeNoCurrentTask,
		task.CodeCircularDependency, task.CodeDuplicateNames,
		task.CodeMultipleInProgress, task.CodeMissingSpecForDoing:
		status = http.StatusConflict
	}
	gc.JSON(status, gin.H{"error": errorBody{Code: code, Message: err.Error()}})
}

func pathID(gc *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(gc.Param("id"), 10, 64)
	if err != nil {
		fail(gc, &task.InvalidInputError{Reason: "invalid task id: " + gc.Param("id")})
		return 0, false
	}
	return id, true
}

// aiCaller reports whether the request is tagged as coming from the AI
// actor. The dashboard defaults to the human.
func aiCaller(gc *gin.Context) bool {
	return gc.Query("caller") == "ai" || gc.GetHeader("X-Taskdeck-Caller") == "ai"
}

func (s *Server) handleList(gc *gin.Context) {
	var f task.Filter
	if v := gc.Query("status"); v != "" {
		status, err := task.ParseStatus(v)
		if err != nil {
			fail(gc, err)
			return
		}
		f.Status = &status
	}
	// parent=none selects roots; parent=<id> selects children; absent
	// means no parent filter.
	if v, ok := gc.GetQuery("parent"); ok {
		if v == "none" {
			f.Parent = &task.ParentRef{}
		} else {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				fail(gc, &task.InvalidInputError{Reason: "invalid parent filter: " + v})
				return
			}
			f.Parent = &task.ParentRef{ID: &id}
		}
	}
	tasks, err := s.c.Tasks.Find(gc.Request.Context(), f)
	if err != nil {
		fail(gc, err)
		return
	}
	gc.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

type createRequest struct {
	Name       string `json:"name"`
	Spec       string `json:"spec"`
	Owner      string `json:"owner"`
	ParentID   *int64 `json:"parent_id"`
	Priority   *int   `json:"priority"`
	Complexity *int   `json:"complexity"`
}

func (s *Server) handleCreate(gc *gin.Context) {
	var req createRequest
	if err := gc.ShouldBindJSON(&req); err != nil {
		fail(gc, &task.InvalidInputError{Reason: "invalid request body: " + err.Error()})
		return
	}
	owner := task.OwnerHuman
	if req.Owner != "" {
		parsed, err := task.ParseOwner(req.Owner)
		if err != nil {
			fail(gc, err)
			return
		}
		owner = parsed
	}
	created, err := s.c.Tasks.Create(gc.Request.Context(), task.CreateInput{
		Name:       req.Name,
		Spec:       req.Spec,
		Owner:      owner,
		ParentID:   req.ParentID,
		Priority:   req.Priority,
		Complexity: req.Complexity,
	})
	if err != nil {
		fail(gc, err)
		return
	}
	s.notify(Event{Type: EventTaskChanged, Op: "create", TaskIDs: []int64{created.ID}})
	gc.JSON(http.StatusCreated, created)
}

func (s *Server) handleGet(gc *gin.Context) {
	id, ok := pathID(gc)
	if !ok {
		return
	}
	t, err := s.c.Tasks.Get(gc.Request.Context(), id)
	if err != nil {
		fail(gc, err)
		return
	}
	gc.JSON(http.StatusOK, t)
}

type updateRequest struct {
	Name       *string         `json:"name"`
	Spec       *string         `json:"spec"`
	Status     *string         `json:"status"`
	Parent     plan.OptionalID `json:"parent_id,omitzero"`
	Priority   *int            `json:"priority"`
	Complexity *int            `json:"complexity"`
}

func (s *Server) handleUpdate(gc *gin.Context) {
	id, ok := pathID(gc)
	if !ok {
		return
	}
	var req updateRequest
	if err := gc.ShouldBindJSON(&req); err != nil {
		fail(gc, &task.InvalidInputError{Reason: "invalid request body: " + err.Error()})
		return
	}
	in := task.UpdateInput{
		Name:       req.Name,
		Spec:       req.Spec,
		Priority:   req.Priority,
		Complexity: req.Complexity,
	}
	if req.Status != nil {
		status, err := task.ParseStatus(*req.Status)
		if err != nil {
			fail(gc, err)
			return
		}
		in.Status = &status
	}
	if req.Parent.Set {
		in.Parent = &task.ParentRef{ID: req.Parent.Value}
	}
	updated, err := s.c.Tasks.Update(gc.Request.Context(), id, in)
	if err != nil {
		fail(gc, err)
		return
	}
	s.notify(Event{Type: EventTaskChanged, Op: "update", TaskIDs: []int64{id}})
	gc.JSON(http.StatusOK, updated)
}

func (s *Server) handleDelete(gc *gin.Context) {
	id, ok := pathID(gc)
	if !ok {
		return
	}
	res, err := s.c.Tasks.Delete(gc.Request.Context(), id)
	if err != nil {
		fail(gc, err)
		return
	}
	s.notify(Event{Type: EventTaskChanged, Op: "delete", TaskIDs: []int64{id}})
	gc.JSON(http.StatusOK, res)
}

func (s *Server) handleStart(gc *gin.Context) {
	id, ok := pathID(gc)
	if !ok {
		return
	}
	t, err := s.c.Tasks.Start(gc.Request.Context(), id)
	if err != nil {
		fail(gc, err)
		return
	}
	s.notify(Event{Type: EventFocusChanged, Op: "start", TaskIDs: []int64{id}})
	gc.JSON(http.StatusOK, t)
}

func (s *Server) handleSwitch(gc *gin.Context) {
	id, ok := pathID(gc)
	if !ok {
		return
	}
	t, err := s.c.Tasks.SwitchTo(gc.Request.Context(), id)
	if err != nil {
		fail(gc, err)
		return
	}
	s.notify(Event{Type: EventFocusChanged, Op: "switch", TaskIDs: []int64{id}})
	gc.JSON(http.StatusOK, t)
}

func (s *Server) handleBlocked(gc *gin.Context) {
	id, ok := pathID(gc)
	if !ok {
		return
	}
	blocking, err := s.c.Graph.Blocking(gc.Request.Context(), id)
	if err != nil {
		fail(gc, err)
		return
	}
	gc.JSON(http.StatusOK, gin.H{"blocked": len(blocking) > 0, "blocking": blocking})
}

func (s *Server) handleComplete(gc *gin.Context) {
	res, err := s.c.Tasks.Complete(gc.Request.Context(), aiCaller(gc))
	if err != nil {
		fail(gc, err)
		return
	}
	ids := []int64{res.Task.ID}
	for _, t := range res.CascadedDone {
		ids = append(ids, t.ID)
	}
	s.notify(Event{Type: EventTaskChanged, Op: "complete", TaskIDs: ids})
	gc.JSON(http.StatusOK, res)
}

type spawnRequest struct {
	Name string `json:"name"`
	Spec string `json:"spec"`
}

func (s *Server) handleSpawn(gc *gin.Context) {
	var req spawnRequest
	if err := gc.ShouldBindJSON(&req); err != nil {
		fail(gc, &task.InvalidInputError{Reason: "invalid request body: " + err.Error()})
		return
	}
	owner := task.OwnerHuman
	if aiCaller(gc) {
		owner = task.OwnerAI
	}
	res, err := s.c.Tasks.SpawnSubtask(gc.Request.Context(), req.Name, req.Spec, owner)
	if err != nil {
		fail(gc, err)
		return
	}
	s.notify(Event{Type: EventFocusChanged, Op: "spawn", TaskIDs: []int64{res.Subtask.ID}})
	gc.JSON(http.StatusCreated, res)
}

func (s *Server) handleCurrent(gc *gin.Context) {
	t, err := s.c.Tasks.Current(gc.Request.Context())
	if err != nil {
		fail(gc, err)
		return
	}
	gc.JSON(http.StatusOK, gin.H{"current": t})
}

func (s *Server) handleNext(gc *gin.Context) {
	rec, err := s.c.Tasks.PickNext(gc.Request.Context())
	if err != nil {
		fail(gc, err)
		return
	}
	gc.JSON(http.StatusOK, rec)
}

func (s *Server) handleSearch(gc *gin.Context) {
	query := gc.Query("q")
	if query == "" {
		fail(gc, &task.InvalidInputError{Reason: "query parameter q required"})
		return
	}
	limit := 20
	if v := gc.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	ids, err := s.c.Store.SearchTasks(gc.Request.Context(), query, limit)
	if err != nil {
		fail(gc, err)
		return
	}
	gc.JSON(http.StatusOK, gin.H{"task_ids": ids})
}

type depRequest struct {
	BlockingID int64 `json:"blocking_id"`
	BlockedID  int64 `json:"blocked_id"`
}

func (s *Server) handleDepList(gc *gin.Context) {
	var taskID *int64
	if v := gc.Query("task"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fail(gc, &task.InvalidInputError{Reason: "invalid task filter: " + v})
			return
		}
		taskID = &id
	}
	deps, err := s.c.Graph.List(gc.Request.Context(), taskID)
	if err != nil {
		fail(gc, err)
		return
	}
	gc.JSON(http.StatusOK, gin.H{"dependencies": deps})
}

func (s *Server) handleDepAdd(gc *gin.Context) {
	var req depRequest
	if err := gc.ShouldBindJSON(&req); err != nil {
		fail(gc, &task.InvalidInputError{Reason: "invalid request body: " + err.Error()})
		return
	}
	dep, err := s.c.Graph.Add(gc.Request.Context(), req.BlockingID, req.BlockedID)
	if err != nil {
		fail(gc, err)
		return
	}
	s.notify(Event{Type: EventDependencyChanged, Op: "add", TaskIDs: []int64{req.BlockingID, req.BlockedID}})
	gc.JSON(http.StatusCreated, dep)
}

func (s *Server) handleDepRemove(gc *gin.Context) {
	var req depRequest
	if err := gc.ShouldBindJSON(&req); err != nil {
		fail(gc, &task.InvalidInputError{Reason: "invalid request body: " + err.Error()})
		return
	}
	if err := s.c.Graph.Remove(gc.Request.Context(), req.BlockingID, req.BlockedID); err != nil {
		fail(gc, err)
		return
	}
	s.notify(Event{Type: EventDependencyChanged, Op: "remove", TaskIDs: []int64{req.BlockingID, req.BlockedID}})
	gc.JSON(http.StatusOK, gin.H{"removed": true})
}

type planRequest struct {
	Tasks []plan.Node `json:"tasks"`
}

func (s *Server) handlePlan(gc *gin.Context) {
	var req planRequest
	if err := gc.ShouldBindJSON(&req); err != nil {
		fail(gc, &task.InvalidInputError{Reason: "invalid request body: " + err.Error()})
		return
	}
	owner := task.OwnerHuman
	if aiCaller(gc) {
		owner = task.OwnerAI
	}
	res, err := s.c.Reconciler.Apply(gc.Request.Context(), req.Tasks, owner)
	if err != nil {
		fail(gc, err)
		return
	}
	s.notify(Event{Type: EventPlanApplied, Op: "plan"})
	gc.JSON(http.StatusOK, res)
}
