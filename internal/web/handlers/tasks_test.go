package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/tasks"
	"github.com/kozaktomas/face-attendance/internal/users"
)

func assignTask(t *testing.T, handler *TasksHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.Create(recorder, requestAs("POST", "/api/v1/tasks", bytes.NewBufferString(body), testAdmin, users.RoleAdmin))
	return recorder
}

func TestTasksHandler_Create(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "alice")
	handler := NewTasksHandler(env.tasks)

	recorder := assignTask(t, handler, `{"user": "alice", "task": "Inventory check"}`)
	assertStatusCode(t, recorder, http.StatusCreated)

	var task tasks.Task
	parseJSONResponse(t, recorder, &task)
	if task.ID == "" || task.Status != tasks.StatusPending || task.User != "alice" {
		t.Errorf("unexpected task %+v", task)
	}
	if !task.AdminSeen || task.EmployeeSeen {
		t.Errorf("new task should be seen by admin only: %+v", task)
	}
}

func TestTasksHandler_Create_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "alice")
	handler := NewTasksHandler(env.tasks)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty task", `{"user": "alice", "task": "  "}`, http.StatusBadRequest},
		{"unknown user", `{"user": "bob", "task": "Sweep"}`, http.StatusNotFound},
		{"invalid json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertStatusCode(t, assignTask(t, handler, tt.body), tt.want)
		})
	}
}

func TestTasksHandler_List(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "alice")
	env.addEmployee(t, "bob")
	handler := NewTasksHandler(env.tasks)

	assignTask(t, handler, `{"user": "alice", "task": "A1"}`)
	assignTask(t, handler, `{"user": "bob", "task": "B1"}`)
	assignTask(t, handler, `{"user": "alice", "task": "A2"}`)

	recorder := httptest.NewRecorder()
	handler.List(recorder, requestAs("GET", "/api/v1/tasks", nil, testAdmin, users.RoleAdmin))
	var all []tasks.Task
	parseJSONResponse(t, recorder, &all)
	if len(all) != 3 {
		t.Errorf("admin should see 3 tasks, got %d", len(all))
	}

	recorder = httptest.NewRecorder()
	handler.List(recorder, requestAs("GET", "/api/v1/tasks", nil, "alice", users.RoleEmployee))
	var own []tasks.Task
	parseJSONResponse(t, recorder, &own)
	if len(own) != 2 {
		t.Fatalf("alice should see 2 tasks, got %d", len(own))
	}
	if own[0].Task != "A2" {
		t.Errorf("expected newest task first, got %s", own[0].Task)
	}
}

func TestTasksHandler_ActiveAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "alice")
	env.addEmployee(t, "bob")
	handler := NewTasksHandler(env.tasks)

	var first tasks.Task
	parseJSONResponse(t, assignTask(t, handler, `{"user": "alice", "task": "A1"}`), &first)
	assignTask(t, handler, `{"user": "alice", "task": "A2"}`)

	recorder := httptest.NewRecorder()
	handler.Active(recorder, requestAs("GET", "/api/v1/tasks/active", nil, "alice", users.RoleEmployee))
	var active map[string]*tasks.Task
	parseJSONResponse(t, recorder, &active)
	if active["task"] == nil || active["task"].Task != "A2" {
		t.Fatalf("expected A2 to be active, got %+v", active["task"])
	}

	update := func(user, id, body string) *httptest.ResponseRecorder {
		req := requestAs("PUT", "/api/v1/tasks/"+id+"/status", bytes.NewBufferString(body), user, users.RoleEmployee)
		req = requestWithChiParams(req, map[string]string{"id": id})
		recorder := httptest.NewRecorder()
		handler.UpdateStatus(recorder, req)
		return recorder
	}

	recorder = update("alice", first.ID, `{"status": "In Progress"}`)
	assertStatusCode(t, recorder, http.StatusOK)
	var updated tasks.Task
	parseJSONResponse(t, recorder, &updated)
	if updated.Task != "A1" || updated.Status != tasks.StatusInProgress || updated.AdminSeen {
		t.Errorf("unexpected update %+v", updated)
	}

	recorder = update("alice", activeTaskID, `{"status": "Completed"}`)
	assertStatusCode(t, recorder, http.StatusOK)
	parseJSONResponse(t, recorder, &updated)
	if updated.Task != "A2" || updated.Status != tasks.StatusCompleted {
		t.Errorf("active update should target A2: %+v", updated)
	}

	assertStatusCode(t, update("bob", first.ID, `{"status": "Completed"}`), http.StatusForbidden)
	assertStatusCode(t, update("alice", first.ID, `{"status": "Done"}`), http.StatusBadRequest)
	assertStatusCode(t, update("alice", "missing-id", `{"status": "Completed"}`), http.StatusNotFound)
	assertStatusCode(t, update("bob", activeTaskID, `{"status": "Completed"}`), http.StatusNotFound)
}

func TestTasksHandler_Active_None(t *testing.T) {
	env := newTestEnv(t)
	handler := NewTasksHandler(env.tasks)

	recorder := httptest.NewRecorder()
	handler.Active(recorder, requestAs("GET", "/api/v1/tasks/active", nil, "alice", users.RoleEmployee))

	assertStatusCode(t, recorder, http.StatusOK)
	if got := recorder.Body.String(); got != "{\"task\":null}\n" {
		t.Errorf("unexpected body %q", got)
	}
}

func TestTasksHandler_Notifications(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "alice")
	handler := NewTasksHandler(env.tasks)

	var task tasks.Task
	parseJSONResponse(t, assignTask(t, handler, `{"user": "alice", "task": "A1"}`), &task)

	poll := func(user, role string) tasks.Notification {
		recorder := httptest.NewRecorder()
		handler.Notifications(recorder, requestAs("GET", "/api/v1/notifications", nil, user, role))
		assertStatusCode(t, recorder, http.StatusOK)
		var n tasks.Notification
		parseJSONResponse(t, recorder, &n)
		return n
	}

	if n := poll("alice", users.RoleEmployee); !n.New || n.Message != "New Task Assigned!" {
		t.Errorf("employee should be notified of the assignment: %+v", n)
	}
	if n := poll("alice", users.RoleEmployee); n.New {
		t.Error("notification should be delivered once")
	}
	if n := poll(testAdmin, users.RoleAdmin); n.New {
		t.Error("admin has nothing new before the employee updates")
	}

	if _, err := env.tasks.UpdateStatus(context.Background(), "alice", task.ID, tasks.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if n := poll(testAdmin, users.RoleAdmin); !n.New || n.Message != "Employee updated a task" || n.Count != 1 {
		t.Errorf("admin should be notified of the update: %+v", n)
	}
}
