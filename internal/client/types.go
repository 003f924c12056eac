package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobState is the server-side lifecycle state of a job. The numeric values
// are the service's own; the client never drives transitions, it only
// classifies states.
type JobState int

const (
	StateDead            JobState = -1
	StateWaiting         JobState = 1
	StateRunning         JobState = 2
	StateExporting       JobState = 3
	StateSuccess         JobState = 4
	StateFailed          JobState = 5
	StateCanceled        JobState = 6
	StateRetired         JobState = 7
	StateSuccessNotified JobState = 8
	StateFailNotified    JobState = 9
	StateDeleted         JobState = 10
)

var jobStateNames = map[JobState]string{
	StateDead:            "DEAD",
	StateWaiting:         "WAITING",
	StateRunning:         "RUNNING",
	StateExporting:       "EXPORTING",
	StateSuccess:         "SUCCESS",
	StateFailed:          "FAILED",
	StateCanceled:        "CANCELED",
	StateRetired:         "RETIRED",
	StateSuccessNotified: "SUCCESS_NOTIFIED",
	StateFailNotified:    "FAIL_NOTIFIED",
	StateDeleted:         "DELETED",
}

func (s JobState) String() string {
	if name, ok := jobStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// Cancelable reports whether a cancel request is expected to be meaningful
// for a job in this state.
func (s JobState) Cancelable() bool {
	return s == StateRunning || s == StateWaiting || s == StateExporting
}

// Timestamp is a point in time transmitted by the service as integer
// milliseconds since the Unix epoch.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts millisecond epoch integers. Zero and null both
// mean the time has not happened yet.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "0" {
		t.Time = time.Time{}
		return nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	t.Time = time.UnixMilli(ms)
	return nil
}

// MarshalJSON writes the same millisecond epoch form, with zero for unset
// times.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

// Message is one log line attached to a job step.
type Message struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Type    int       `json:"type"`
	Time    Timestamp `json:"time"`
}

// Step is one processing step of a job, with its log messages.
type Step struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	LogMessages []Message `json:"logMessages"`
}

// TreeItem is a node of the virtual output-file tree reported by the server.
type TreeItem struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Hash     string     `json:"hash"`
	Size     string     `json:"size"`
	Folder   bool       `json:"folder"`
	Children []TreeItem `json:"childs"`
}

// FileEntry is one downloadable output file. Name may contain path
// separators for nested virtual paths.
type FileEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Hash        string `json:"hash"`
	Size        string `json:"size"`
	Username    string `json:"user"`
	Count       int    `json:"count"`
	ParameterID int64  `json:"parameterId"`
}

// OutputParam is one output parameter of a finished job, carrying its file
// listing and tree.
type OutputParam struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Value       string      `json:"value"`
	JobID       string      `json:"jobId"`
	Hash        string      `json:"hash"`
	Type        string      `json:"type"`
	Download    bool        `json:"download"`
	AutoExport  bool        `json:"autoExport"`
	Tree        []TreeItem  `json:"tree"`
	Files       []FileEntry `json:"files"`
}

// Job is an immutable snapshot of a server-owned job. Every API call returns
// a fresh snapshot; the client never mutates one.
type Job struct {
	ID              string        `json:"id"`
	Application     string        `json:"application"`
	ApplicationID   string        `json:"applicationId"`
	Name            string        `json:"name,omitempty"`
	Username        string        `json:"username,omitempty"`
	State           JobState      `json:"state"`
	PositionInQueue int64         `json:"positionInQueue"` // -1 means not queued
	SubmittedOn     Timestamp     `json:"submittedOn"`
	StartTime       Timestamp     `json:"startTime"`
	EndTime         Timestamp     `json:"endTime"`
	DeletedOn       Timestamp     `json:"deletedOn"`
	CurrentTime     Timestamp     `json:"currentTime"`
	Steps           []Step        `json:"steps,omitempty"`
	OutputParams    []OutputParam `json:"outputParams,omitempty"`
}

// jobListResponse wraps the job listing payload.
type jobListResponse struct {
	Data []Job `json:"data"`
}

// SubmitResult is the outcome of a submission or restart. Ordinary failures
// are represented as data (Success=false), never as an error: batch drivers
// must be able to continue past individual failures.
type SubmitResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

// JobSubmission holds the inputs for SubmitJob. Population and Files are
// required; every optional field is omitted entirely from the outbound
// request when unset.
type JobSubmission struct {
	Refpanel   string
	Population string
	Files      []string

	JobName       string
	Build         string
	R2Filter      *float64
	Phasing       string
	Mode          string
	AESEncryption *bool
	MetaFile      *bool
	Password      string
}

// formField is one scalar multipart field.
type formField struct {
	name  string
	value string
}

// formFields returns the populated scalar fields in submission order. Values
// are stringified, trimmed, and dropped when empty after trimming.
func (s *JobSubmission) formFields() []formField {
	raw := []formField{
		{"refpanel", s.Refpanel},
		{"population", s.Population},
		{"job-name", s.JobName},
		{"build", s.Build},
		{"r2Filter", formatFloat(s.R2Filter)},
		{"phasing", s.Phasing},
		{"mode", s.Mode},
		{"aesEncryption", formatBool(s.AESEncryption)},
		{"meta", formatBool(s.MetaFile)},
		{"password", s.Password},
	}

	fields := make([]formField, 0, len(raw))
	for _, f := range raw {
		f.value = strings.TrimSpace(f.value)
		if f.value == "" {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'g', -1, 64)
}

func formatBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

// User is one account as reported by the admin user listing.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"name"`
	Email    string `json:"mail"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
}

// userListResponse wraps the admin user listing payload.
type userListResponse struct {
	Data []User `json:"data"`
}

// LoginResponse is the admin login payload: a bearer token plus expiry and
// role information.
type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int64    `json:"expires_in"`
	Roles       []string `json:"roles"`
}

// ListState is a job state filter accepted by the admin job listing
// endpoint. The endpoint takes exactly one filter per call.
type ListState string

const (
	ListStateLongTimeQueue ListState = "running-ltq"
	ListStateCurrent       ListState = "current"
	ListStateRetired       ListState = "retired"
)

// AllListStates covers every filter the admin listing endpoint accepts.
var AllListStates = []ListState{ListStateLongTimeQueue, ListStateCurrent, ListStateRetired}

// KillAllResult partitions the ids touched by AdminKillAll.
type KillAllResult struct {
	Killed []string `json:"killed"`
	Failed []string `json:"failed"`
}

// CatalogPopulation is one population option of a reference panel, as
// reported by the application-parameter listing.
type CatalogPopulation struct {
	ID          string
	DisplayName string
}

// CatalogEntry is one reference panel with its population options.
type CatalogEntry struct {
	ID          string
	DisplayName string
	Populations []CatalogPopulation
}

// appParameter is one entry of the application-parameter listing. Values maps
// raw option keys to display names.
type appParameter struct {
	ID     string            `json:"id"`
	Values map[string]string `json:"values"`
}

// appResponse is the application detail payload.
type appResponse struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params []appParameter `json:"params"`
}

// ServerInfo is the general server status payload.
type ServerInfo struct {
	Name               string `json:"name"`
	EmailRequired      bool   `json:"emailRequired"`
	Maintenance        bool   `json:"maintenance"`
	MaintenanceMessage string `json:"maintenanceMessage,omitempty"`
	User               *User  `json:"user,omitempty"`
}

// DownloadedFile describes one file written to disk by Download.
type DownloadedFile struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// decodeJSON decodes data into v, surfacing a decode error without the
// payload contents (tokens and passwords may travel nearby).
func decodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
