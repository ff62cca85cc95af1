package api

import "time"

// JobStatus is the lifecycle status of a job as stored in the job list.
type JobStatus string

const (
	JobGenerating JobStatus = "generating"
	JobLoading    JobStatus = "loading"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
	// JobReady is reported by older servers for finished jobs.
	JobReady JobStatus = "ready"
)

// InProgress reports whether the job is still being worked on.
func (s JobStatus) InProgress() bool {
	return s == JobGenerating || s == JobLoading
}

// Terminal reports whether the job reached a final state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError || s == JobReady
}

// Job is a server-side asynchronous unit of work.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	Status    JobStatus `json:"status,omitempty"`
	IsMCP     bool      `json:"is_mcp,omitempty"`
}

// Progress is the status block of a status poll. Counters are kept as floats
// because the server doesn't promise integers.
type Progress struct {
	Total        float64
	Completed    float64
	Errors       float64
	Loading      float64
	IsCompleted  bool
	HasErrors    bool
	IsInProgress bool
}

// StatusResponse is the result of GET /jobs/:id/status.
type StatusResponse struct {
	JobID    string
	JobURL   string
	Progress Progress
}

// CreateJobRequest is the body of POST /jobs/create.
type CreateJobRequest struct {
	Message                 string `json:"message"`
	Source                  string `json:"source"`
	CurrentURL              string `json:"currentUrl,omitempty"`
	SelectedElementsCount   int    `json:"selectedElementsCount"`
	SelectedComponentsCount int    `json:"selectedComponentsCount"`
}

// User is the signed-in account.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	ImageURL    string `json:"imageUrl,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Usage is the account's generation quota.
type Usage struct {
	Current   int `json:"current"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// Profile is the result of GET /user/info.
type Profile struct {
	User  User  `json:"user"`
	Usage Usage `json:"usage"`
}
