package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// AdminLogin exchanges a username and password for a bearer token. The call
// itself is unauthenticated; the caller decides whether to persist the
// token.
func (c *Client) AdminLogin(ctx context.Context, username, password string) (*LoginResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	status, body, err := c.postForm(ctx, "/login", form, false)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("login failed with status %d", status)
	}

	var login LoginResponse
	if err := decodeJSON(body, &login); err != nil {
		return nil, err
	}
	if login.AccessToken == "" {
		return nil, fmt.Errorf("login response carried no access token")
	}
	return &login, nil
}

// AdminListUsers lists all accounts known to the server. Non-2xx responses
// degrade to an empty list, matching the listing convention.
func (c *Client) AdminListUsers(ctx context.Context) ([]User, error) {
	status, body, err := c.get(ctx, "/admin/users")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return []User{}, nil
	}

	var resp userListResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// AdminListJobs lists jobs across all users. The endpoint accepts exactly
// one state filter per call, so one request is issued per requested state
// and the results are concatenated. If any per-state call fails, the whole
// listing returns empty rather than partial results.
func (c *Client) AdminListJobs(ctx context.Context, states []ListState) ([]Job, error) {
	var jobs []Job

	for _, state := range states {
		status, body, err := c.get(ctx, "/admin/jobs?state="+url.QueryEscape(string(state)))
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return []Job{}, nil
		}

		var resp jobListResponse
		if err := decodeJSON(body, &resp); err != nil {
			return []Job{}, nil
		}
		jobs = append(jobs, resp.Data...)
	}

	return jobs, nil
}

// AdminKillAll cancels every job currently in a cancelable state
// (RUNNING, WAITING, EXPORTING) across all state filters. The pass is
// best-effort: ids whose post-cancel state is CANCELED land in Killed,
// everything else in Failed, and individual failures never abort the sweep.
func (c *Client) AdminKillAll(ctx context.Context) (KillAllResult, error) {
	result := KillAllResult{Killed: []string{}, Failed: []string{}}

	jobs, err := c.AdminListJobs(ctx, AllListStates)
	if err != nil {
		return result, err
	}

	for _, job := range jobs {
		if !job.State.Cancelable() {
			continue
		}

		snapshot, err := c.CancelJob(ctx, job.ID)
		if err != nil || snapshot.State != StateCanceled {
			slog.Warn("cancel did not take", "job", job.ID, "error", err)
			result.Failed = append(result.Failed, job.ID)
			continue
		}
		result.Killed = append(result.Killed, job.ID)
	}

	return result, nil
}
