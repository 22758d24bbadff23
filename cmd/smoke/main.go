package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"tasktrail.org/internal/obs"
)

type client struct {
	base  string
	http  *http.Client
	token string
}

func main() {
	log := obs.Logger()
	var (
		base     = flag.String("url", envOr("TASKTRAIL_SMOKE_URL", "http://localhost:3333"), "API base URL")
		email    = flag.String("email", os.Getenv("TASKTRAIL_SMOKE_EMAIL"), "seeded owner or admin email")
		password = flag.String("password", os.Getenv("TASKTRAIL_SMOKE_PASSWORD"), "password for -email")
	)
	flag.Parse()
	if *email == "" || *password == "" {
		log.Fatal("missing credentials: provide -email and -password")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := &client{base: strings.TrimRight(*base, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	var session struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID             string `json:"id"`
			OrganizationID string `json:"organizationId"`
		} `json:"user"`
	}
	c.call(ctx, http.MethodPost, "/api/auth/login", map[string]string{"email": *email, "password": *password}, http.StatusOK, &session)
	c.token = session.AccessToken

	type task struct {
		ID             string `json:"id"`
		Title          string `json:"title"`
		Status         string `json:"status"`
		OrganizationID string `json:"organizationId"`
	}
	var created task
	c.call(ctx, http.MethodPost, "/api/tasks", map[string]string{
		"title":       fmt.Sprintf("smoke %d", time.Now().Unix()),
		"description": "created by the smoke client",
		"category":    "work",
	}, http.StatusCreated, &created)
	if created.OrganizationID != session.User.OrganizationID {
		log.Fatalf("task landed in organization %s, want %s", created.OrganizationID, session.User.OrganizationID)
	}

	var fetched task
	c.call(ctx, http.MethodGet, "/api/tasks/"+created.ID, nil, http.StatusOK, &fetched)

	var updated task
	c.call(ctx, http.MethodPut, "/api/tasks/"+created.ID, map[string]string{"status": "done"}, http.StatusOK, &updated)
	if updated.Status != "done" {
		log.Fatalf("update not applied: status=%s", updated.Status)
	}

	var list []task
	c.call(ctx, http.MethodGet, "/api/tasks", nil, http.StatusOK, &list)
	found := false
	for _, t := range list {
		found = found || t.ID == created.ID
	}
	if !found {
		log.Fatalf("task %s missing from list", created.ID)
	}

	c.call(ctx, http.MethodDelete, "/api/tasks/"+created.ID, nil, http.StatusNoContent, nil)
	c.call(ctx, http.MethodGet, "/api/tasks/"+created.ID, nil, http.StatusNotFound, nil)

	var entries []struct {
		Action     string `json:"action"`
		ResourceID string `json:"resourceId"`
	}
	c.call(ctx, http.MethodGet, "/api/tasks/audit-log", nil, http.StatusOK, &entries)
	seen := map[string]bool{}
	for _, e := range entries {
		if e.ResourceID == created.ID {
			seen[e.Action] = true
		}
	}
	for _, action := range []string{"CREATE_TASK", "UPDATE_TASK", "DELETE_TASK"} {
		if !seen[action] {
			log.Fatalf("audit log has no %s entry for %s", action, created.ID)
		}
	}

	fmt.Printf("smoke test passed: task=%s\n", created.ID)
}

func (c *client) call(ctx context.Context, method, path string, body any, want int, out any) {
	log := obs.Logger()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			log.WithError(err).Fatal("encode request")
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		log.WithError(err).Fatal("build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Fatalf("%s %s", method, path)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			log.WithError(err).Fatalf("%s %s: decode response", method, path)
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
