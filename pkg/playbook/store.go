// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package playbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver
)

// Store is the SQLite-backed playbook store. A single connection is used;
// modernc sqlite serializes writers and the entry volumes here are tiny.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func rollback(tx *sql.Tx) { _ = tx.Rollback() }

// ensureSeeded guarantees the project row exists and that a fresh
// tenant/project starts from the default playbook, inside the caller's
// transaction so concurrent first reads cannot double-seed.
func ensureSeeded(ctx context.Context, tx *sql.Tx, tenantID, projectID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO projects (project_id, tenant_id, description, created_at)
		 VALUES (?, ?, '', ?)
		 ON CONFLICT (tenant_id, project_id) DO NOTHING`,
		projectID, tenantID, now)
	if err != nil {
		return fmt.Errorf("ensuring project: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE tenant_id = ? AND project_id = ?`,
		tenantID, projectID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("counting entries: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, e := range defaultEntries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entries (entry_id, project_id, tenant_id, section, content,
			                      helpful_count, harmful_count, created_at)
			 VALUES (?, ?, ?, ?, ?, 0, 0, ?)`,
			e.ID, projectID, tenantID, e.Section, e.Content, now)
		if err != nil {
			return fmt.Errorf("seeding default playbook: %w", err)
		}
	}
	return nil
}

// entriesInTx loads the tenant/project entries in section order.
func entriesInTx(ctx context.Context, tx *sql.Tx, tenantID, projectID string) ([]Entry, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT entry_id, section, content, helpful_count, harmful_count
		 FROM entries WHERE tenant_id = ? AND project_id = ?
		 ORDER BY section, entry_id`,
		tenantID, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Section, &e.Content, &e.Helpful, &e.Harmful); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReadPlaybook returns the full rendered playbook for the tenant and
// project, seeding the defaults on first read.
func (s *Store) ReadPlaybook(ctx context.Context, tenantID, projectID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if err := ensureSeeded(ctx, tx, tenantID, projectID); err != nil {
		return "", err
	}
	entries, err := entriesInTx(ctx, tx, tenantID, projectID)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing transaction: %w", err)
	}
	return Render(entries), nil
}

// GetSection returns one section's entries.
func (s *Store) GetSection(ctx context.Context, tenantID, projectID, section string) ([]Entry, error) {
	if _, ok := sectionPrefixes[section]; !ok {
		return nil, fmt.Errorf("%w: %q is not one of %v", ErrInvalidSection, section, sectionOrder)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if err := ensureSeeded(ctx, tx, tenantID, projectID); err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT entry_id, section, content, helpful_count, harmful_count
		 FROM entries WHERE tenant_id = ? AND project_id = ? AND section = ?
		 ORDER BY entry_id`,
		tenantID, projectID, section)
	if err != nil {
		return nil, fmt.Errorf("querying section: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Section, &e.Content, &e.Helpful, &e.Harmful); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return entries, nil
}

// AddEntry appends a new entry with an auto-generated id and zeroed
// counters, and returns it.
func (s *Store) AddEntry(ctx context.Context, tenantID, projectID, section, content string) (*Entry, error) {
	prefix, ok := sectionPrefixes[section]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not one of %v", ErrInvalidSection, section, sectionOrder)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if err := ensureSeeded(ctx, tx, tenantID, projectID); err != nil {
		return nil, err
	}

	// Next id is max+1 over the prefix for this tenant/project. Ids are
	// fixed-width, so the numeric tail starts at character 5.
	var maxNum int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(CAST(substr(entry_id, 5) AS INTEGER)), 0)
		 FROM entries
		 WHERE tenant_id = ? AND project_id = ? AND entry_id LIKE ? || '-%'`,
		tenantID, projectID, prefix,
	).Scan(&maxNum)
	if err != nil {
		return nil, fmt.Errorf("computing next entry id: %w", err)
	}

	entry := &Entry{
		ID:      fmt.Sprintf("%s-%05d", prefix, maxNum+1),
		Section: section,
		Content: strings.TrimSpace(content),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (entry_id, project_id, tenant_id, section, content,
		                      helpful_count, harmful_count, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, ?)`,
		entry.ID, projectID, tenantID, section, entry.Content,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("inserting entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return entry, nil
}

// CounterUpdate reports the before/after counters of an entry.
type CounterUpdate struct {
	EntryID    string
	OldHelpful int
	NewHelpful int
	OldHarmful int
	NewHarmful int
}

// UpdateCounters applies deltas to an entry's helpful/harmful counters,
// clamping both at zero.
func (s *Store) UpdateCounters(ctx context.Context, tenantID, projectID, entryID string, helpfulDelta, harmfulDelta int) (*CounterUpdate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if err := ensureSeeded(ctx, tx, tenantID, projectID); err != nil {
		return nil, err
	}

	upd := &CounterUpdate{EntryID: entryID}
	err = tx.QueryRowContext(ctx,
		`SELECT helpful_count, harmful_count FROM entries
		 WHERE tenant_id = ? AND project_id = ? AND entry_id = ?`,
		tenantID, projectID, entryID,
	).Scan(&upd.OldHelpful, &upd.OldHarmful)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up entry: %w", err)
	}

	upd.NewHelpful = max(0, upd.OldHelpful+helpfulDelta)
	upd.NewHarmful = max(0, upd.OldHarmful+harmfulDelta)

	_, err = tx.ExecContext(ctx,
		`UPDATE entries SET helpful_count = ?, harmful_count = ?
		 WHERE tenant_id = ? AND project_id = ? AND entry_id = ?`,
		upd.NewHelpful, upd.NewHarmful, tenantID, projectID, entryID)
	if err != nil {
		return nil, fmt.Errorf("updating counters: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return upd, nil
}

// RemoveEntry deletes an entry by id.
func (s *Store) RemoveEntry(ctx context.Context, tenantID, projectID, entryID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE tenant_id = ? AND project_id = ? AND entry_id = ?`,
		tenantID, projectID, entryID)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return nil
}

// SearchPlaybook returns entries whose content contains any of the
// query's whitespace-separated keywords, case-insensitively.
func (s *Store) SearchPlaybook(ctx context.Context, tenantID, projectID, query string) ([]Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if err := ensureSeeded(ctx, tx, tenantID, projectID); err != nil {
		return nil, err
	}
	entries, err := entriesInTx(ctx, tx, tenantID, projectID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	keywords := strings.Fields(strings.ToLower(query))
	var matches []Entry
	for _, e := range entries {
		content := strings.ToLower(e.Content)
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				matches = append(matches, e)
				break
			}
		}
	}
	return matches, nil
}

// Reflection is a logged task retrospective.
type Reflection struct {
	ID          string
	TaskSummary string
	Outcome     string
	Learnings   []string
	CreatedAt   time.Time
}

// LogReflection appends a reflection for later curation.
func (s *Store) LogReflection(ctx context.Context, tenantID, projectID, taskSummary, outcome string, learnings []string) (*Reflection, error) {
	learningsJSON, err := json.Marshal(learnings)
	if err != nil {
		return nil, fmt.Errorf("encoding learnings: %w", err)
	}

	ref := &Reflection{
		ID:          uuid.NewString(),
		TaskSummary: taskSummary,
		Outcome:     outcome,
		Learnings:   learnings,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reflections (id, project_id, tenant_id, task_summary, outcome, learnings, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, projectID, tenantID, taskSummary, outcome, string(learningsJSON),
		ref.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("inserting reflection: %w", err)
	}
	return ref, nil
}

// DuplicatePair is a reported pair of near-duplicate entries.
type DuplicatePair struct {
	A          string
	B          string
	Similarity float64
}

// CurationReport summarizes a curation pass.
type CurationReport struct {
	Removed    []string
	Duplicates []DuplicatePair
}

// CuratePlaybook removes entries whose harmful count exceeds the helpful
// count by more than threshold, and reports (without removing) pairs of
// surviving entries with near-duplicate content.
func (s *Store) CuratePlaybook(ctx context.Context, tenantID, projectID string, threshold int) (*CurationReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if err := ensureSeeded(ctx, tx, tenantID, projectID); err != nil {
		return nil, err
	}
	entries, err := entriesInTx(ctx, tx, tenantID, projectID)
	if err != nil {
		return nil, err
	}

	report := &CurationReport{}
	var kept []Entry
	for _, e := range entries {
		if e.Harmful > e.Helpful+threshold {
			report.Removed = append(report.Removed, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	for _, id := range report.Removed {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM entries WHERE tenant_id = ? AND project_id = ? AND entry_id = ?`,
			tenantID, projectID, id)
		if err != nil {
			return nil, fmt.Errorf("removing harmful entry: %w", err)
		}
	}

	for i, a := range kept {
		for _, b := range kept[i+1:] {
			if sim := similarity(a.Content, b.Content); sim > duplicateSimilarityThreshold {
				report.Duplicates = append(report.Duplicates, DuplicatePair{
					A: a.ID, B: b.ID, Similarity: sim,
				})
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return report, nil
}

// Project is a per-tenant namespace for playbook entries.
type Project struct {
	ID          string
	Description string
	CreatedAt   time.Time
}

// ListProjects returns the tenant's projects. The default project always
// exists.
func (s *Store) ListProjects(ctx context.Context, tenantID string) ([]Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (project_id, tenant_id, description, created_at)
		 VALUES (?, ?, '', ?)
		 ON CONFLICT (tenant_id, project_id) DO NOTHING`,
		DefaultProject, tenantID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("ensuring default project: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT project_id, description, created_at FROM projects WHERE tenant_id = ?`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

// CreateProject registers a project for the tenant. Creating an existing
// project is a no-op.
func (s *Store) CreateProject(ctx context.Context, tenantID, projectID, description string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (project_id, tenant_id, description, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id, project_id) DO NOTHING`,
		projectID, tenantID, description, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating project: %w", err)
	}
	return nil
}
