package control

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/undercity-dev/undercity/internal/models"
)

type statusResponse struct {
	Daemon  daemonStatus       `json:"daemon"`
	Session string             `json:"session"`
	Agents  []string           `json:"agents"`
	Tasks   taskCountsResponse `json:"tasks"`
}

type daemonStatus struct {
	Port      string  `json:"port"`
	PID       int     `json:"pid"`
	UptimeSec float64 `json:"uptime"`
	Paused    bool    `json:"paused"`
}

type taskCountsResponse struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Complete   int `json:"complete"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts := taskCountsResponse{}
	if s.board != nil {
		if pending, err := s.board.ListTasksByStatus(ctx, models.StatusPending); err == nil {
			counts.Pending = len(pending)
		}
		if inProgress, err := s.board.ListTasksByStatus(ctx, models.StatusInProgress); err == nil {
			counts.InProgress = len(inProgress)
		}
		if complete, err := s.board.ListTasksByStatus(ctx, models.StatusComplete); err == nil {
			counts.Complete = len(complete)
		}
	}

	var paused bool
	var agents []string
	if s.orchestrator != nil {
		paused = s.orchestrator.IsPaused()
		agents = s.orchestrator.InFlightTaskIDs()
	}
	if agents == nil {
		agents = []string{}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Daemon: daemonStatus{
			Port:      s.cfg.Addr,
			PID:       os.Getpid(),
			UptimeSec: time.Since(s.startedAt).Seconds(),
			Paused:    paused,
		},
		Session: s.cfg.SessionID,
		Agents:  agents,
		Tasks:   counts,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.board == nil {
		writeJSON(w, http.StatusOK, []*models.Task{})
		return
	}
	ctx := r.Context()

	var all []*models.Task
	for _, status := range []models.Status{models.StatusPending, models.StatusInProgress, models.StatusBlocked, models.StatusComplete, models.StatusFailed} {
		tasks, err := s.board.ListTasksByStatus(ctx, status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		all = append(all, tasks...)
	}
	writeJSON(w, http.StatusOK, all)
}

type createTaskRequest struct {
	Objective string `json:"objective"`
	Priority  *int   `json:"priority,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.board == nil || s.newTaskID == nil {
		writeError(w, http.StatusServiceUnavailable, "task creation is not configured")
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Objective == "" {
		writeError(w, http.StatusBadRequest, "objective is required")
		return
	}

	task := &models.Task{
		ID:        s.newTaskID(req.Objective),
		Objective: req.Objective,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if err := task.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.board.UpsertTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, []models.RateLimitState{})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator != nil {
		s.orchestrator.Pause()
	}
	s.logf("control: paused via HTTP")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator != nil {
		s.orchestrator.Resume()
	}
	s.logf("control: resumed via HTTP")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.logf("control: stop requested via HTTP")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}
