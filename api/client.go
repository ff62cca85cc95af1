package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/toolbar-labs/magic-tracker/lib"
	"github.com/toolbar-labs/magic-tracker/lib/logger"
)

// TokenSource yields a bearer token, refreshing it if necessary. It returns
// false when the user is signed out.
type TokenSource interface {
	RefreshIfNeeded(ctx context.Context) (string, bool)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.magic-tracker.dev.
	BaseURL string
	// Timeout bounds a single call.
	Timeout time.Duration
	// Tokens authorizes the requests.
	Tokens TokenSource
	// Log is the logger.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.BaseURL == "" {
		return trace.BadParameter("missing API base URL")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return trace.BadParameter("API base URL %q must be an http(s) URL", c.BaseURL)
	}
	if c.Tokens == nil {
		return trace.BadParameter("missing token source")
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	return nil
}

// Client is the authenticated remote API client. Every failure it returns
// carries an *APIError, except when ctx is canceled: then the context error
// is returned as is.
type Client struct {
	client *resty.Client
	tokens TokenSource
	log    logrus.FieldLogger
}

// NewClient creates a Client.
func NewClient(conf Config) (*Client, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Client{
		client: makeClient(conf.BaseURL, conf.Timeout),
		tokens: conf.Tokens,
		log:    conf.Log,
	}, nil
}

// CreateJob submits a new job.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	body, err := c.do(ctx, http.MethodPost, "/jobs/create", nil, req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var job Job
	if err := json.Unmarshal([]byte(unwrapObject(body, "job", "project").Raw), &job); err != nil {
		return nil, malformed(err)
	}
	if job.ID == "" {
		return nil, malformed(trace.BadParameter("job id is missing"))
	}
	return &job, nil
}

// JobStatus polls the progress of a job. Counters that aren't numbers are
// read as zero.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*StatusResponse, error) {
	if jobID == "" {
		return nil, trace.BadParameter("missing job id")
	}
	body, err := c.do(ctx, http.MethodGet, "/jobs/{id}/status", map[string]string{"id": jobID}, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !gjson.ValidBytes(body) {
		return nil, malformed(trace.BadParameter("status response is not JSON"))
	}
	parsed := gjson.ParseBytes(body)
	job := unwrapObject(body, "job", "project")
	status := parsed.Get("status")
	return &StatusResponse{
		JobID:  job.Get("id").String(),
		JobURL: job.Get("url").String(),
		Progress: Progress{
			Total:        number(status.Get("total")),
			Completed:    number(status.Get("completed")),
			Errors:       number(status.Get("errors")),
			Loading:      number(status.Get("loading")),
			IsCompleted:  status.Get("isCompleted").Type == gjson.True,
			HasErrors:    status.Get("hasErrors").Type == gjson.True,
			IsInProgress: status.Get("isInProgress").Type == gjson.True,
		},
	}, nil
}

// ListJobs returns the user's jobs, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	body, err := c.do(ctx, http.MethodGet, "/jobs", nil, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	raw := gjson.ParseBytes(body)
	if !raw.IsArray() {
		for _, key := range []string{"jobs", "projects"} {
			if list := raw.Get(key); list.IsArray() {
				raw = list
				break
			}
		}
	}
	if !raw.IsArray() {
		return nil, malformed(trace.BadParameter("job list is not an array"))
	}
	jobs := make([]Job, 0, len(raw.Array()))
	if err := json.Unmarshal([]byte(raw.Raw), &jobs); err != nil {
		return nil, malformed(err)
	}
	return jobs, nil
}

// Profile returns the signed-in user and their quota.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	body, err := c.do(ctx, http.MethodGet, "/user/info", nil, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, malformed(err)
	}
	return &profile, nil
}

// do sends an authenticated request. Path parameters are escaped.
func (c *Client) do(ctx context.Context, method, path string, pathParams map[string]string, body interface{}) ([]byte, error) {
	token, ok := c.tokens.RefreshIfNeeded(ctx)
	if !ok {
		return nil, trace.Wrap(unauthenticated())
	}

	requestID := uuid.NewString()
	log := logger.Get(ctx).WithFields(logger.Fields{"request_id": requestID, "method": method, "path": path})

	req := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("X-Request-ID", requestID).
		SetPathParams(pathParams)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if lib.IsCanceled(ctx.Err()) {
			return nil, trace.Wrap(ctx.Err())
		}
		log.WithError(err).Debug("Request failed")
		if lib.IsDeadline(ctx.Err()) || lib.IsDeadline(err) {
			return nil, trace.Wrap(timeoutError(err))
		}
		return nil, trace.Wrap(networkError(err))
	}
	if resp.IsError() {
		err := responseError(resp)
		log.WithError(err).Debug("Request rejected")
		return nil, trace.Wrap(err)
	}
	log.WithField("status", resp.StatusCode()).Debug("Request succeeded")
	return resp.Body(), nil
}

func malformed(err error) error {
	return trace.Wrap(&APIError{Code: CodeAPIError, Message: "malformed response: " + err.Error()})
}

// unwrapObject returns the first nested object found under keys or the whole
// document.
func unwrapObject(body []byte, keys ...string) gjson.Result {
	parsed := gjson.ParseBytes(body)
	for _, key := range keys {
		if obj := parsed.Get(key); obj.IsObject() {
			return obj
		}
	}
	return parsed
}

func number(r gjson.Result) float64 {
	if r.Type != gjson.Number {
		return 0
	}
	return r.Float()
}
