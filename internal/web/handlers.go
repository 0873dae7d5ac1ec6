package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"trackid/internal/app"
	"trackid/internal/config"
	"trackid/internal/identify"
	"trackid/pkg/utils"
)

type IdentifyRequest struct {
	Source string `json:"source"`
	Time   string `json:"time,omitempty"`
	Chunks int    `json:"chunks,omitempty"`
}

type AttemptResponse struct {
	Chunk    int    `json:"chunk"`
	Window   string `json:"window"`
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
}

type JobResponse struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	Time        string            `json:"time,omitempty"`
	Chunks      int               `json:"chunks"`
	Status      JobStatus         `json:"status"`
	Progress    int               `json:"progress"`
	Total       int               `json:"total"`
	Track       *identify.Track   `json:"track,omitempty"`
	Window      string            `json:"window,omitempty"`
	Cached      bool              `json:"cached,omitempty"`
	Attempts    []AttemptResponse `json:"attempts,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorKind   string            `json:"error_kind,omitempty"`
	Hint        string            `json:"hint,omitempty"`
	CreatedAt   string            `json:"created_at"`
	StartedAt   *string           `json:"started_at,omitempty"`
	CompletedAt *string           `json:"completed_at,omitempty"`
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req, err := parseIdentifyRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobMgr.CreateJob(req)
	s.jobMgr.UpdateJob(job.ID, func(j *Job) {
		j.Total = req.Chunks * s.providers
	})

	if cached, ok := s.cachedResult(req); ok {
		s.metrics.RecordCacheHit()
		s.logger.Info("Job %s answered from cache", job.ID)
		s.jobMgr.UpdateJob(job.ID, func(j *Job) {
			track := cached.Track
			j.Track = &track
			j.Window = cached.Window
			j.Cached = true
			j.Status = StatusCompleted
		})
	} else {
		s.logger.Info("Created job %s for %s", job.ID, req.Source)
		go s.processJob(job.ID, req)
	}

	job, _ = s.jobMgr.GetJob(job.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(s.jobToResponse(job))
}

func parseIdentifyRequest(body IdentifyRequest) (app.Request, error) {
	req := app.Request{
		Source: strings.TrimSpace(body.Source),
		Chunks: config.ClampChunks(body.Chunks),
	}
	if req.Source == "" {
		return req, fmt.Errorf("source is required")
	}
	if !utils.IsURL(req.Source) {
		// the server only fetches remote audio
		return req, fmt.Errorf("source must be a URL")
	}
	if body.Time == "" {
		return req, app.ErrTimestampRequired
	}

	ts, err := utils.ParseTimestamp(body.Time)
	if err != nil {
		return req, err
	}
	req.Timestamp = ts
	req.HasTimestamp = true
	return req, nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobs := s.jobMgr.ListJobs()
	responses := make([]*JobResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = s.jobToResponse(job)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

func (s *Server) handleJobAction(w http.ResponseWriter, r *http.Request) {
	// Extract job ID from path: /api/jobs/{id} or /api/jobs/{id}/cancel
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	// Handle GET /api/jobs/{id}
	if r.Method == http.MethodGet && len(parts) == 1 {
		job, err := s.jobMgr.GetJob(jobID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.jobToResponse(job))
		return
	}

	// Handle POST /api/jobs/{id}/cancel
	if r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "cancel" {
		job, err := s.jobMgr.GetJob(jobID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		if job.Cancel != nil {
			job.Cancel()
		}

		s.jobMgr.UpdateJob(jobID, func(j *Job) {
			j.Status = StatusCancelled
		})

		job, _ = s.jobMgr.GetJob(jobID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": string(job.Status)})
		return
	}

	http.Error(w, "Invalid request", http.StatusBadRequest)
}

func (s *Server) processJob(jobID string, req app.Request) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// Store cancel function in job
	s.jobMgr.UpdateJob(jobID, func(j *Job) {
		j.Cancel = cancel
		j.Status = StatusRunning
	})

	if job, err := s.jobMgr.GetJob(jobID); err != nil || job.Status.Finished() {
		return
	}
	s.logger.Info("Starting job %s", jobID)

	hooks := identify.Hooks{
		OnAttempt: func(a identify.Attempt) {
			s.jobMgr.UpdateJob(jobID, func(j *Job) {
				j.Progress++
				j.Attempts = append(j.Attempts, a)
			})
		},
	}

	result, err := s.identifier.Run(ctx, req, hooks)
	if err != nil {
		kind := app.Classify(err)
		status := StatusFailed
		if kind == app.KindCancelled {
			status = StatusCancelled
		}
		s.logger.Error("Job %s failed: %v", jobID, err)
		s.jobMgr.UpdateJob(jobID, func(j *Job) {
			j.Status = status
			j.Error = err.Error()
			j.ErrorKind = kind
		})
		return
	}

	if !result.Matched() {
		s.logger.Info("Job %s: no match", jobID)
		s.jobMgr.UpdateJob(jobID, func(j *Job) {
			j.Status = StatusCompleted
			j.ErrorKind = app.KindNoMatch
		})
		return
	}

	window := result.Window.String()
	s.storeResult(req, cachedResult{Track: *result.Track, Window: window})
	s.jobMgr.UpdateJob(jobID, func(j *Job) {
		track := *result.Track
		j.Track = &track
		j.Window = window
		j.Status = StatusCompleted
	})

	s.logger.Info("Job %s completed: %s - %s", jobID, result.Track.Artist, result.Track.Title)
}

func (s *Server) jobToResponse(job *Job) *JobResponse {
	resp := &JobResponse{
		ID:        job.ID,
		Source:    job.Request.Source,
		Chunks:    job.Request.Chunks,
		Status:    job.Status,
		Progress:  job.Progress,
		Total:     job.Total,
		Track:     job.Track,
		Window:    job.Window,
		Cached:    job.Cached,
		Error:     job.Error,
		ErrorKind: job.ErrorKind,
		CreatedAt: job.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if job.Request.HasTimestamp {
		resp.Time = utils.FormatTimestamp(job.Request.Timestamp)
	}
	if job.ErrorKind != "" {
		resp.Hint = app.Hint(job.ErrorKind, &identify.Result{Attempts: job.Attempts})
	}

	for _, a := range job.Attempts {
		ar := AttemptResponse{
			Chunk:    a.Window.Index,
			Window:   utils.FormatTimestamp(a.Window.Start) + "-" + utils.FormatTimestamp(a.Window.End),
			Provider: a.Provider,
			Outcome:  a.Outcome.String(),
		}
		if a.Err != nil {
			ar.Error = a.Err.Error()
		}
		resp.Attempts = append(resp.Attempts, ar)
	}

	if job.StartedAt != nil {
		started := job.StartedAt.Format("2006-01-02 15:04:05")
		resp.StartedAt = &started
	}

	if job.CompletedAt != nil {
		completed := job.CompletedAt.Format("2006-01-02 15:04:05")
		resp.CompletedAt = &completed
	}

	return resp
}
