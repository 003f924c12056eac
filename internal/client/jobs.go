package client

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// appID is the application every job is submitted against.
const appID = "imputationserver2"

// ListJobs lists all jobs visible to the current identity. The service does
// not reliably distinguish "no jobs" from certain transient failures, so any
// non-200 response degrades to an empty list.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	status, body, err := c.get(ctx, "/jobs")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return []Job{}, nil
	}

	var resp jobListResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetJob retrieves the full detail of one job, including steps, logs, and
// output files. Unlike the listings, an unknown or inaccessible job is an
// error, never an empty snapshot.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	status, body, err := c.get(ctx, "/jobs/"+id)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, jobError(id, status, body)
	}
	var job Job
	if err := decodeJSON(body, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, fmt.Errorf("job %q: response carried no job", id)
	}
	return &job, nil
}

// CancelJob requests cancellation of a job and returns the resulting
// snapshot. Inspect State == StateCanceled to confirm.
func (c *Client) CancelJob(ctx context.Context, id string) (*Job, error) {
	status, body, err := c.get(ctx, "/jobs/"+id+"/cancel")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, jobError(id, status, body)
	}
	var job Job
	if err := decodeJSON(body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// jobError turns a non-200 job response into an error, carrying the
// service's own message when the body has one.
func jobError(id string, status int, body []byte) error {
	var resp struct {
		Message string `json:"message"`
	}
	if decodeJSON(body, &resp) == nil && resp.Message != "" {
		return fmt.Errorf("job %q: %s (status %d)", id, resp.Message, status)
	}
	return fmt.Errorf("job %q: request failed with status %d", id, status)
}

// RestartJob retries a job. The server only accepts restarts for jobs in
// the DEAD state; that rule is not checked locally.
func (c *Client) RestartJob(ctx context.Context, id string) (SubmitResult, error) {
	_, body, err := c.get(ctx, "/jobs/"+id+"/restart")
	if err != nil {
		return SubmitResult{}, err
	}
	var result SubmitResult
	if err := decodeJSON(body, &result); err != nil {
		return SubmitResult{}, err
	}
	return result, nil
}

// SubmitJob uploads the input files and submits a job. A response that does
// not decode into the expected shape becomes Success=false rather than an
// error; hard failures (network unreachable, unreadable input files) still
// return an error.
func (c *Client) SubmitJob(ctx context.Context, params JobSubmission, progress ProgressFunc) (SubmitResult, error) {
	if strings.TrimSpace(params.Population) == "" {
		return SubmitResult{}, fmt.Errorf("job submission requires a population")
	}
	if len(params.Files) == 0 {
		return SubmitResult{}, fmt.Errorf("job submission requires at least one input file")
	}

	body, err := c.postMultipart(ctx, "/jobs/submit/"+appID, params, progress)
	if err != nil {
		return SubmitResult{}, err
	}

	var result SubmitResult
	if err := decodeJSON(body, &result); err != nil {
		return SubmitResult{Success: false}, nil
	}
	return result, nil
}

// ListRefpanels retrieves the application-parameter listing and
// cross-references the refpanel and population value sets into a catalog.
// Each refpanel's raw option key namespaces its population option keys:
// a population key <panel-key>@<pop-id> belongs to the panel with key
// <panel-key>.
func (c *Client) ListRefpanels(ctx context.Context) ([]CatalogEntry, error) {
	status, body, err := c.get(ctx, "/server/apps/"+appID)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("application listing failed with status %d", status)
	}

	var app appResponse
	if err := decodeJSON(body, &app); err != nil {
		return nil, err
	}

	var panelValues, populationValues map[string]string
	for _, param := range app.Params {
		switch param.ID {
		case "refpanel":
			panelValues = param.Values
		case "population":
			populationValues = param.Values
		}
	}
	if panelValues == nil {
		return nil, fmt.Errorf("application %q has no refpanel parameter", appID)
	}

	panelKeys := make([]string, 0, len(panelValues))
	for key := range panelValues {
		panelKeys = append(panelKeys, key)
	}
	sort.Strings(panelKeys)

	entries := make([]CatalogEntry, 0, len(panelKeys))
	for _, rawKey := range panelKeys {
		entry := CatalogEntry{
			ID:          optionID(rawKey),
			DisplayName: panelValues[rawKey],
		}

		prefix := rawKey + "@"
		popKeys := make([]string, 0)
		for popKey := range populationValues {
			if strings.HasPrefix(popKey, prefix) {
				popKeys = append(popKeys, popKey)
			}
		}
		sort.Strings(popKeys)
		for _, popKey := range popKeys {
			entry.Populations = append(entry.Populations, CatalogPopulation{
				ID:          strings.TrimPrefix(popKey, prefix),
				DisplayName: populationValues[popKey],
			})
		}

		entries = append(entries, entry)
	}
	return entries, nil
}

// optionID strips the namespace prefix from a raw option key: the panel id
// of "apps@topmed-r3" is "topmed-r3".
func optionID(rawKey string) string {
	if i := strings.LastIndex(rawKey, "@"); i >= 0 {
		return rawKey[i+1:]
	}
	return rawKey
}

// GetServerInfo retrieves general server status, including the calling
// account when authenticated.
func (c *Client) GetServerInfo(ctx context.Context) (*ServerInfo, error) {
	status, body, err := c.get(ctx, "/server")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("server info request failed with status %d", status)
	}
	var info ServerInfo
	if err := decodeJSON(body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
