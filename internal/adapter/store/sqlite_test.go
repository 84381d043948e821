package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"taskrails/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteTaskStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "taskrails.db")
	store, err := NewSQLiteTaskStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteTaskStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteTaskStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &domain.Task{Title: "Wire the hub", Description: "REST endpoints", Priority: "high"}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID == "" {
		t.Fatal("CreateTask should assign an id")
	}
	if task.Status != domain.TaskTodo {
		t.Errorf("Status = %q, want todo", task.Status)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "Wire the hub" || got.Priority != "high" {
		t.Errorf("got %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}

	if _, err := store.GetTask(ctx, "missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("GetTask(missing) err = %v, want ErrTaskNotFound", err)
	}
}

func TestSQLiteTaskStore_CreateValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateTask(ctx, &domain.Task{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty title err = %v, want ErrInvalidInput", err)
	}
	if err := store.CreateTask(ctx, &domain.Task{Title: "x", Status: "blocked"}); !errors.Is(err, domain.ErrInvalidTaskStatus) {
		t.Errorf("bad status err = %v, want ErrInvalidTaskStatus", err)
	}
}

func TestSQLiteTaskStore_Counts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.CountTasks(ctx)
	if err != nil {
		t.Fatalf("CountTasks: %v", err)
	}
	if n != 0 {
		t.Fatalf("CountTasks = %d, want 0", n)
	}

	for i, status := range []domain.TaskStatus{domain.TaskTodo, domain.TaskTodo, domain.TaskDoing, domain.TaskDone} {
		if err := store.CreateTask(ctx, &domain.Task{ID: fmt.Sprintf("t%d", i), Title: "task", Status: status}); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	n, err = store.CountTasks(ctx)
	if err != nil {
		t.Fatalf("CountTasks: %v", err)
	}
	if n != 4 {
		t.Errorf("CountTasks = %d, want 4", n)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[domain.TaskTodo] != 2 || counts[domain.TaskDoing] != 1 || counts[domain.TaskDone] != 1 {
		t.Errorf("CountByStatus = %v", counts)
	}
}

func TestSQLiteTaskStore_UpdateTaskStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateTask(ctx, &domain.Task{ID: "42", Title: "Fix login"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := store.UpdateTaskStatus(ctx, "42", domain.TaskDoing, "picked up"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	got, err := store.GetTask(ctx, "42")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != domain.TaskDoing {
		t.Errorf("Status = %q, want doing", got.Status)
	}

	activity, err := store.ListActivity(ctx, "42")
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(activity) != 2 {
		t.Fatalf("activity len = %d, want 2", len(activity))
	}
	if activity[1].Kind != "status" || activity[1].Detail != "doing: picked up" {
		t.Errorf("activity[1] = %+v", activity[1])
	}
}

func TestSQLiteTaskStore_UpdateErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateTask(ctx, &domain.Task{ID: "1", Title: "t"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	err := store.UpdateTaskStatus(ctx, "1", "blocked", "")
	if !errors.Is(err, domain.ErrInvalidTaskStatus) {
		t.Errorf("invalid status err = %v, want ErrInvalidTaskStatus", err)
	}
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("invalid status should classify as invalid input: %v", err)
	}

	err = store.UpdateTaskStatus(ctx, "nope", domain.TaskDone, "")
	if !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("unknown id err = %v, want ErrTaskNotFound", err)
	}

	// A rejected update leaves no activity behind.
	activity, _ := store.ListActivity(ctx, "nope")
	if len(activity) != 0 {
		t.Errorf("activity for unknown id = %v", activity)
	}
}

func TestSQLiteTaskStore_ListTasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.CreateTask(ctx, &domain.Task{ID: fmt.Sprintf("t%d", i), Title: "task"}); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
	if err := store.UpdateTaskStatus(ctx, "t1", domain.TaskDone, ""); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	all, err := store.ListTasks(ctx, "")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListTasks all = %d, want 3", len(all))
	}

	done, err := store.ListTasks(ctx, domain.TaskDone)
	if err != nil {
		t.Fatalf("ListTasks done: %v", err)
	}
	if len(done) != 1 || done[0].ID != "t1" {
		t.Errorf("ListTasks done = %+v", done)
	}
}

func TestSQLiteTaskStore_ConcurrentWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateTask(ctx, &domain.Task{ID: "shared", Title: "t"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- store.CreateTask(ctx, &domain.Task{ID: fmt.Sprintf("c%d", i), Title: "t"})
		}(i)
		go func() {
			defer wg.Done()
			errs <- store.UpdateTaskStatus(ctx, "shared", domain.TaskDoing, "")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write: %v", err)
		}
	}

	n, _ := store.CountTasks(ctx)
	if n != 21 {
		t.Errorf("CountTasks = %d, want 21", n)
	}
}

func TestSQLiteTaskStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s1, err := NewSQLiteTaskStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteTaskStore: %v", err)
	}
	if err := s1.CreateTask(ctx, &domain.Task{ID: "p1", Title: "Persistent"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	s1.Close()

	s2, err := NewSQLiteTaskStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetTask(ctx, "p1")
	if err != nil {
		t.Fatalf("GetTask after reopen: %v", err)
	}
	if got.Title != "Persistent" {
		t.Errorf("Title = %q", got.Title)
	}
}
