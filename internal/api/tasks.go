package api

import (
	"net/http"
	"strings"

	"campus/pkg/types"
)

type TasksResponse struct {
	Tasks []*types.Task `json:"tasks"`
}

type TaskResponse struct {
	Message string      `json:"message"`
	Task    *types.Task `json:"task,omitempty"`
}

// readTaskForm parses and checks a task form. Empty fields answer 400, a due
// date that is not YYYY-MM-DD answers 422.
func (s *Server) readTaskForm(w http.ResponseWriter, r *http.Request, needID bool) (*TaskForm, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	form := &TaskForm{
		Email:       formValue(r, "email"),
		ID:          formValue(r, "task_id"),
		Title:       formValue(r, "title"),
		Description: formValue(r, "description"),
		DueDate:     formValue(r, "due_date"),
	}

	if needID && form.ID == "" {
		s.sendError(w, "task_id is required", http.StatusBadRequest)
		return nil, false
	}
	if err := types.ValidateStruct(form); err != nil {
		s.sendValidationError(w, err)
		return nil, false
	}
	if !types.IsValidDate(form.DueDate) {
		s.sendError(w, types.ErrInvalidDate.Error(), http.StatusUnprocessableEntity)
		return nil, false
	}
	return form, true
}

// POST /api/tasks/add (form: email, title, description, due_date)
func (s *Server) addTask(w http.ResponseWriter, r *http.Request) {
	form, ok := s.readTaskForm(w, r, false)
	if !ok {
		return
	}

	task := &types.Task{
		UserEmail:   form.Email,
		Title:       form.Title,
		Description: form.Description,
		DueDate:     form.DueDate,
	}
	if err := s.store.AddTask(r.Context(), task); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TaskResponse{Message: "Task added", Task: task})
}

// GET /api/tasks?email=
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		s.sendError(w, "email is required", http.StatusBadRequest)
		return
	}

	tasks, err := s.store.ListTasks(r.Context(), email)
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TasksResponse{Tasks: tasks})
}

// POST /api/tasks/edit (form: email, task_id, title, description, due_date)
func (s *Server) editTask(w http.ResponseWriter, r *http.Request) {
	form, ok := s.readTaskForm(w, r, true)
	if !ok {
		return
	}

	task := &types.Task{
		ID:          form.ID,
		UserEmail:   form.Email,
		Title:       form.Title,
		Description: form.Description,
		DueDate:     form.DueDate,
	}
	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TaskResponse{Message: "Task updated", Task: task})
}

// POST /api/tasks/delete (form: email, task_id)
func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	email := formValue(r, "email")
	taskID := formValue(r, "task_id")
	if email == "" || taskID == "" {
		s.sendError(w, "email and task_id are required", http.StatusBadRequest)
		return
	}

	if err := s.store.DeleteTask(r.Context(), email, taskID); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TaskResponse{Message: "Task deleted"})
}
