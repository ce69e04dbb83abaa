package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/overseer-dev/overseer/internal/domain"
)

func (t *Txn) InsertTask(task *domain.Task) error {
	_, err := t.tx.Exec(
		`INSERT INTO tasks (id, repo_id, parent_id, kind, description, context, priority, status, created_at, updated_at, started_at, completed_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		task.ID, task.RepoID, task.ParentID, string(task.Kind), task.Description, task.Context,
		int(task.Priority), string(task.Status), fmtTime(task.CreatedAt), fmtTime(task.UpdatedAt),
		fmtTimePtr(task.StartedAt), fmtTimePtr(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	for b := range task.BlockedBy {
		if err := t.AddBlocker(task.ID, b); err != nil {
			return err
		}
	}
	return nil
}

func (t *Txn) UpdateTask(task *domain.Task) error {
	_, err := t.tx.Exec(
		`UPDATE tasks SET description=?, context=?, priority=?, status=?, updated_at=?, started_at=?, completed_at=? WHERE id=?`,
		task.Description, task.Context, int(task.Priority), string(task.Status), fmtTime(task.UpdatedAt),
		fmtTimePtr(task.StartedAt), fmtTimePtr(task.CompletedAt), task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

func (t *Txn) DeleteTask(id string) error {
	for _, stmt := range []string{
		`DELETE FROM review_comments WHERE review_id IN (SELECT id FROM reviews WHERE task_id=?)`,
		`DELETE FROM gate_results WHERE task_id=?`,
		`DELETE FROM reviews WHERE task_id=?`,
		`DELETE FROM help_requests WHERE task_id=?`,
		`DELETE FROM learnings WHERE task_id=?`,
		`DELETE FROM task_vcs WHERE task_id=?`,
		`DELETE FROM task_blockers WHERE task_id=? OR blocker_id=?`,
		`DELETE FROM gates WHERE scope_type='Task' AND scope_id=?`,
		`DELETE FROM tasks WHERE id=?`,
	} {
		args := []any{id}
		if countPlaceholders(stmt) == 2 {
			args = append(args, id)
		}
		if _, err := t.tx.Exec(stmt, args...); err != nil {
			return fmt.Errorf("failed to cascade-delete task %s: %w", id, err)
		}
	}
	return nil
}

func countPlaceholders(stmt string) int {
	n := 0
	for _, c := range stmt {
		if c == '?' {
			n++
		}
	}
	return n
}

func (t *Txn) AddBlocker(taskID, blockerID string) error {
	_, err := t.tx.Exec(`INSERT OR IGNORE INTO task_blockers (task_id, blocker_id) VALUES (?,?)`, taskID, blockerID)
	if err != nil {
		return fmt.Errorf("failed to add blocker: %w", err)
	}
	return nil
}

func (t *Txn) RemoveBlocker(taskID, blockerID string) error {
	_, err := t.tx.Exec(`DELETE FROM task_blockers WHERE task_id=? AND blocker_id=?`, taskID, blockerID)
	if err != nil {
		return fmt.Errorf("failed to remove blocker: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,repo_id,parent_id,kind,description,context,priority,status,created_at,updated_at,started_at,completed_at FROM tasks WHERE id=?`, id)
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	blockers, err := s.listBlockers(ctx, id)
	if err != nil {
		return nil, err
	}
	task.BlockedBy = blockers
	return task, nil
}

func scanTask(row *sql.Row) (*domain.Task, error) {
	var task domain.Task
	var parentID sql.NullString
	var kind, status string
	var priority int
	var created, updated string
	var started, completed sql.NullString
	if err := row.Scan(&task.ID, &task.RepoID, &parentID, &kind, &task.Description, &task.Context,
		&priority, &status, &created, &updated, &started, &completed); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFound("task", "")
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	if parentID.Valid {
		p := parentID.String
		task.ParentID = &p
	}
	task.Kind = domain.TaskKind(kind)
	task.Status = domain.TaskStatus(status)
	task.Priority = domain.Priority(priority)
	task.CreatedAt = parseTime(created)
	task.UpdatedAt = parseTime(updated)
	task.StartedAt = parseTimePtr(started)
	task.CompletedAt = parseTimePtr(completed)
	return &task, nil
}

func (s *Store) listBlockers(ctx context.Context, taskID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT blocker_id FROM task_blockers WHERE task_id=?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blockers: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, nil
}

// BlockedByGraph loads the whole blocked_by edge table for a repo, for
// cycle detection and effective-blocked computation (spec §4.3, §9).
func (s *Store) BlockedByGraph(ctx context.Context, repoID string) (domain.BlockedByGraph, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tb.task_id, tb.blocker_id FROM task_blockers tb JOIN tasks t ON t.id = tb.task_id WHERE t.repo_id = ?`, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocker graph: %w", err)
	}
	defer rows.Close()
	g := make(domain.BlockedByGraph)
	for rows.Next() {
		var task, blocker string
		if err := rows.Scan(&task, &blocker); err != nil {
			return nil, err
		}
		if g[task] == nil {
			g[task] = make(map[string]struct{})
		}
		g[task][blocker] = struct{}{}
	}
	return g, nil
}

func (s *Store) ListTasksByRepoStatus(ctx context.Context, repoID string, status domain.TaskStatus) ([]*domain.Task, error) {
	q := `SELECT id,repo_id,parent_id,kind,description,context,priority,status,created_at,updated_at,started_at,completed_at FROM tasks WHERE repo_id=?`
	args := []any{repoID}
	if status != "" {
		q += ` AND status=?`
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *Store) ListChildren(ctx context.Context, parentID string) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,repo_id,parent_id,kind,description,context,priority,status,created_at,updated_at,started_at,completed_at FROM tasks WHERE parent_id=?`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var out []*domain.Task
	for rows.Next() {
		var task domain.Task
		var parentID sql.NullString
		var kind, status string
		var priority int
		var created, updated string
		var started, completed sql.NullString
		if err := rows.Scan(&task.ID, &task.RepoID, &parentID, &kind, &task.Description, &task.Context,
			&priority, &status, &created, &updated, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		if parentID.Valid {
			p := parentID.String
			task.ParentID = &p
		}
		task.Kind = domain.TaskKind(kind)
		task.Status = domain.TaskStatus(status)
		task.Priority = domain.Priority(priority)
		task.CreatedAt = parseTime(created)
		task.UpdatedAt = parseTime(updated)
		task.StartedAt = parseTimePtr(started)
		task.CompletedAt = parseTimePtr(completed)
		out = append(out, &task)
	}
	return out, nil
}

// TaskVcs persistence.

func (t *Txn) InsertTaskVcs(v *domain.TaskVcs) error {
	_, err := t.tx.Exec(
		`INSERT INTO task_vcs (task_id, repo_id, vcs_type, ref_name, change_id, base_commit, head_commit, start_commit, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		v.TaskID, v.RepoID, string(v.VcsType), v.RefName, v.ChangeID, v.BaseCommit, v.HeadCommit,
		v.StartCommit, fmtTime(v.CreatedAt), fmtTime(v.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task vcs: %w", err)
	}
	return nil
}

func (t *Txn) SetTaskVcsHead(taskID, headCommit string, at any) error {
	_, err := t.tx.Exec(`UPDATE task_vcs SET head_commit=?, updated_at=? WHERE task_id=?`, headCommit, at, taskID)
	if err != nil {
		return fmt.Errorf("failed to set task vcs head: %w", err)
	}
	return nil
}

func (s *Store) GetTaskVcs(ctx context.Context, taskID string) (*domain.TaskVcs, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id,repo_id,vcs_type,ref_name,change_id,base_commit,head_commit,start_commit,created_at,updated_at,archived_at FROM task_vcs WHERE task_id=?`, taskID)
	var v domain.TaskVcs
	var vcsType string
	var head sql.NullString
	var created, updated string
	var archived sql.NullString
	if err := row.Scan(&v.TaskID, &v.RepoID, &vcsType, &v.RefName, &v.ChangeID, &v.BaseCommit, &head,
		&v.StartCommit, &created, &updated, &archived); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFound("task_vcs", taskID)
		}
		return nil, fmt.Errorf("failed to scan task vcs: %w", err)
	}
	v.VcsType = domain.VcsType(vcsType)
	if head.Valid {
		h := head.String
		v.HeadCommit = &h
	}
	v.CreatedAt = parseTime(created)
	v.UpdatedAt = parseTime(updated)
	v.ArchivedAt = parseTimePtr(archived)
	return &v, nil
}
