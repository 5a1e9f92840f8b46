package model

// TaskDetail is the external verification service's view of a task, fetched
// with the admin API key when processing upload webhooks.
type TaskDetail struct {
	TaskID       string          `json:"task_id"`
	UserID       string          `json:"user_id"`
	Status       string          `json:"status"`
	IsFileBacked bool            `json:"is_file_backed"`
	FileName     string          `json:"file_name"`
	File         *TaskFileDetail `json:"file"`
}

// TaskFileDetail describes the uploaded file behind a file-backed task.
type TaskFileDetail struct {
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	EmailCount int64  `json:"email_count"`
}

// FileBacked reports whether the task originated from a file upload.
func (t *TaskDetail) FileBacked() bool {
	return t != nil && (t.IsFileBacked || t.File != nil || t.FileName != "")
}

// UploadCompletionData is the task-completion payload carried by the
// bulk-upload webhook: per-job results plus aggregate stats.
type UploadCompletionData struct {
	UserID string       `json:"user_id"`
	Stats  *UploadStats `json:"stats"`
	Jobs   []struct{}   `json:"jobs"`
}

type UploadStats struct {
	Total     *int64 `json:"total"`
	Completed *int64 `json:"completed"`
	Failed    *int64 `json:"failed"`
}
