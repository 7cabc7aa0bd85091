package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"content-review-queue/internal/engine"
	"content-review-queue/internal/models"
)

func TestUserLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/student-1":
			_ = json.NewEncoder(w).Encode(models.UserInfo{
				Email: "s1@example.edu", GivenName: "Sam", FamilyName: "Larson",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewUserClient(srv.URL, 0)

	user, err := c.Lookup(context.Background(), "student-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !user.Complete() {
		t.Fatalf("user %+v reported incomplete", user)
	}
	if user.UserID != "student-1" {
		t.Fatalf("user id = %q, want filled from request", user.UserID)
	}

	if _, err := c.Lookup(context.Background(), "ghost"); !errors.Is(err, engine.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestActivityConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sites/site-1/tasks/assignment-1":
			_ = json.NewEncoder(w).Encode(models.ActivityConfig{
				ReviewEnabled: true, ReportTiming: models.ReportImmediately,
			})
		case "/sites/site-1/tasks/deleted":
			http.Error(w, "gone", http.StatusGone)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewActivityClient(srv.URL, 0)

	cfg, err := c.Config(context.Background(), "site-1", "assignment-1")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !cfg.ReviewEnabled || cfg.TaskID != "assignment-1" {
		t.Fatalf("config = %+v", cfg)
	}

	if _, err := c.Config(context.Background(), "site-1", "deleted"); !errors.Is(err, engine.ErrActivityGone) {
		t.Fatalf("err for 410 = %v, want ErrActivityGone", err)
	}
	if _, err := c.Config(context.Background(), "site-1", "missing"); !errors.Is(err, engine.ErrActivityGone) {
		t.Fatalf("err for 404 = %v, want ErrActivityGone", err)
	}
}
