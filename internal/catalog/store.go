package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mre-backend/lib/textutil"

	"github.com/google/uuid"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed implementation of every repository port.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

func (s Store) UpsertBySource(ctx context.Context, event Event) (Event, error) {
	if event.SourceEventID == "" {
		return Event{}, fmt.Errorf("event is missing a source id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, source_event_id, source_url, name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source_event_id) DO UPDATE SET
			source_url = excluded.source_url,
			name = excluded.name`,
		uuid.NewString(), event.SourceEventID, event.SourceURL, event.Name,
	)
	if err != nil {
		return Event{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM events WHERE source_event_id = ?`, event.SourceEventID)
	if err := row.Scan(&event.ID); err != nil {
		return Event{}, err
	}
	return event, nil
}

func (s Store) UpsertClassBySource(ctx context.Context, class RaceClass) (RaceClass, error) {
	if class.EventID == "" || class.ClassCode == "" {
		return RaceClass{}, fmt.Errorf("race class is missing its event or class code")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO race_classes (id, event_id, class_code, source_url, name)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (event_id, class_code) DO UPDATE SET
			source_url = excluded.source_url,
			name = excluded.name`,
		uuid.NewString(), class.EventID, class.ClassCode, class.SourceURL, class.Name,
	)
	if err != nil {
		return RaceClass{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM race_classes WHERE event_id = ? AND class_code = ?`,
		class.EventID, class.ClassCode)
	if err := row.Scan(&class.ID); err != nil {
		return RaceClass{}, err
	}
	return class, nil
}

func (s Store) SessionIDBySource(ctx context.Context, sourceSessionID string) (string, error) {
	var id string
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE source_session_id = ?`, sourceSessionID)
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (s Store) UpsertSessionBySource(ctx context.Context, session Session) (Session, error) {
	if session.SourceSessionID == "" {
		return Session{}, fmt.Errorf("session is missing a source id")
	}
	var start any
	if session.ScheduledStart != nil {
		start = session.ScheduledStart.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, event_id, race_class_id, source_session_id, source_url, name, scheduled_start)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_session_id) DO UPDATE SET
			event_id = excluded.event_id,
			race_class_id = excluded.race_class_id,
			source_url = excluded.source_url,
			name = excluded.name,
			scheduled_start = excluded.scheduled_start`,
		uuid.NewString(), session.EventID, session.RaceClassID,
		session.SourceSessionID, session.SourceURL, session.Name, start,
	)
	if err != nil {
		return Session{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE source_session_id = ?`, session.SourceSessionID)
	if err := row.Scan(&session.ID); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (s Store) UpsertByDisplayName(ctx context.Context, displayName string) (Driver, error) {
	key := textutil.NormalizeDriverName(displayName)
	if key == "" {
		return Driver{}, fmt.Errorf("driver display name is empty")
	}

	driver := Driver{DisplayName: displayName}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name FROM drivers
		WHERE display_name_key = ? AND provider = ''
		LIMIT 1`, key)
	err := row.Scan(&driver.ID, &driver.DisplayName)
	if err == nil {
		return driver, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Driver{}, err
	}

	driver.ID = uuid.NewString()
	driver.DisplayName = displayName
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drivers (id, display_name, display_name_key)
		VALUES (?, ?, ?)`,
		driver.ID, displayName, key,
	)
	if err != nil {
		return Driver{}, err
	}
	return driver, nil
}

func (s Store) UpsertDriverBySource(ctx context.Context, provider, sourceDriverID, displayName string) (Driver, error) {
	if provider == "" || sourceDriverID == "" {
		return s.UpsertByDisplayName(ctx, displayName)
	}

	key := textutil.NormalizeDriverName(displayName)
	driver := Driver{Provider: provider, SourceDriverID: sourceDriverID, DisplayName: displayName}

	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM drivers WHERE provider = ? AND source_driver_id = ?`,
		provider, sourceDriverID)
	err := row.Scan(&driver.ID)
	if err == nil {
		_, err = s.db.ExecContext(ctx, `
			UPDATE drivers SET display_name = ?, display_name_key = ? WHERE id = ?`,
			displayName, key, driver.ID)
		return driver, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Driver{}, err
	}

	driver.ID = uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drivers (id, display_name, display_name_key, provider, source_driver_id)
		VALUES (?, ?, ?, ?, ?)`,
		driver.ID, displayName, key, provider, sourceDriverID,
	)
	if err != nil {
		return Driver{}, err
	}
	return driver, nil
}

func (s Store) UpsertEntrantBySource(ctx context.Context, entrant Entrant) (Entrant, error) {
	if entrant.SourceEntrantID == "" {
		return Entrant{}, fmt.Errorf("entrant is missing a source id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entrants (id, event_id, race_class_id, session_id, driver_id, source_entrant_id, car_number, transponder)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, race_class_id, session_id, source_entrant_id) DO UPDATE SET
			driver_id = excluded.driver_id,
			car_number = excluded.car_number,
			transponder = excluded.transponder`,
		uuid.NewString(), entrant.EventID, entrant.RaceClassID, entrant.SessionID,
		entrant.DriverID, entrant.SourceEntrantID, entrant.CarNumber, entrant.Transponder,
	)
	if err != nil {
		return Entrant{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM entrants
		WHERE event_id = ? AND race_class_id = ? AND session_id = ? AND source_entrant_id = ?`,
		entrant.EventID, entrant.RaceClassID, entrant.SessionID, entrant.SourceEntrantID)
	if err := row.Scan(&entrant.ID); err != nil {
		return Entrant{}, err
	}
	return entrant, nil
}

func (s Store) FindBySourceEntrantID(ctx context.Context, sessionID, sourceEntrantID string) (*Entrant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, race_class_id, session_id, driver_id, source_entrant_id, car_number, transponder
		FROM entrants WHERE session_id = ? AND source_entrant_id = ?`,
		sessionID, sourceEntrantID)

	var e Entrant
	err := row.Scan(&e.ID, &e.EventID, &e.RaceClassID, &e.SessionID,
		&e.DriverID, &e.SourceEntrantID, &e.CarNumber, &e.Transponder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s Store) ListBySession(ctx context.Context, sessionID string) ([]Entrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, race_class_id, session_id, driver_id, source_entrant_id, car_number, transponder
		FROM entrants WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entrants []Entrant
	for rows.Next() {
		var e Entrant
		err := rows.Scan(&e.ID, &e.EventID, &e.RaceClassID, &e.SessionID,
			&e.DriverID, &e.SourceEntrantID, &e.CarNumber, &e.Transponder)
		if err != nil {
			return nil, err
		}
		entrants = append(entrants, e)
	}
	return entrants, rows.Err()
}

func (s Store) UpsertBySessionAndDriver(ctx context.Context, row ResultRow) error {
	if row.SessionID == "" || row.DriverID == "" {
		return fmt.Errorf("result row is missing its session or driver")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO result_rows (session_id, driver_id, position, lap_count, total_time_ms, behind_ms, fastest_lap_ms, average_lap_ms, consistency_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, driver_id) DO UPDATE SET
			position = excluded.position,
			lap_count = excluded.lap_count,
			total_time_ms = excluded.total_time_ms,
			behind_ms = excluded.behind_ms,
			fastest_lap_ms = excluded.fastest_lap_ms,
			average_lap_ms = excluded.average_lap_ms,
			consistency_pct = excluded.consistency_pct`,
		row.SessionID, row.DriverID, row.Position, row.LapCount, row.TotalTimeMS,
		row.BehindMS, row.FastestLapMS, row.AverageLapMS, row.ConsistencyPct,
	)
	return err
}

func (s Store) ReplaceForEntrant(ctx context.Context, entrantID, sessionID string, laps []Lap) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM laps WHERE entrant_id = ? AND session_id = ?`,
		entrantID, sessionID)
	if err != nil {
		return err
	}
	for _, lap := range laps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO laps (id, entrant_id, session_id, lap_number, lap_time_ms)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				lap_number = excluded.lap_number,
				lap_time_ms = excluded.lap_time_ms`,
			lap.ID, entrantID, sessionID, lap.LapNumber, lap.LapTimeMS,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s Store) LapsForEntrant(ctx context.Context, entrantID, sessionID string) ([]Lap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entrant_id, session_id, lap_number, lap_time_ms
		FROM laps WHERE entrant_id = ? AND session_id = ?
		ORDER BY lap_number`, entrantID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var laps []Lap
	for rows.Next() {
		var lap Lap
		err := rows.Scan(&lap.ID, &lap.EntrantID, &lap.SessionID, &lap.LapNumber, &lap.LapTimeMS)
		if err != nil {
			return nil, err
		}
		laps = append(laps, lap)
	}
	return laps, rows.Err()
}

// --- import jobs ---

func (s Store) CreateJob(ctx context.Context, job ImportJob, items []ImportJobItem) (ImportJob, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = JobQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ImportJob{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO import_jobs (id, state, progress, error, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.State, job.Progress, job.Error, job.CreatedAt.Unix(),
	)
	if err != nil {
		return ImportJob{}, err
	}

	for i, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.State == "" {
			item.State = JobQueued
		}
		counts, err := json.Marshal(item.Counts)
		if err != nil {
			return ImportJob{}, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO import_job_items (id, job_id, seq, target_type, target_ref, state, error, counts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, job.ID, i, item.TargetType, item.TargetRef, item.State, item.Error, string(counts),
		)
		if err != nil {
			return ImportJob{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return ImportJob{}, err
	}
	return job, nil
}

func (s Store) GetJob(ctx context.Context, id string) (ImportJob, []ImportJobItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, progress, error, created_at FROM import_jobs WHERE id = ?`, id)

	var job ImportJob
	var createdAt int64
	err := row.Scan(&job.ID, &job.State, &job.Progress, &job.Error, &createdAt)
	if err != nil {
		return ImportJob{}, nil, err
	}
	job.CreatedAt = time.Unix(createdAt, 0).UTC()

	items, err := s.jobItems(ctx, id)
	if err != nil {
		return ImportJob{}, nil, err
	}
	return job, items, nil
}

func (s Store) jobItems(ctx context.Context, jobID string) ([]ImportJobItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, target_type, target_ref, state, error, counts
		FROM import_job_items WHERE job_id = ? ORDER BY seq`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ImportJobItem
	for rows.Next() {
		var item ImportJobItem
		var counts string
		err := rows.Scan(&item.ID, &item.JobID, &item.TargetType, &item.TargetRef,
			&item.State, &item.Error, &counts)
		if err != nil {
			return nil, err
		}
		if counts != "" && counts != "{}" {
			if err := json.Unmarshal([]byte(counts), &item.Counts); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// TakeNextQueuedJob claims the oldest queued job, flipping it to
// RUNNING in the same transaction so a job is never claimed twice.
func (s Store) TakeNextQueuedJob(ctx context.Context) (*ImportJob, []ImportJobItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, state, progress, error, created_at FROM import_jobs
		WHERE state = ? ORDER BY created_at, id LIMIT 1`, JobQueued)

	var job ImportJob
	var createdAt int64
	err = row.Scan(&job.ID, &job.State, &job.Progress, &job.Error, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	job.CreatedAt = time.Unix(createdAt, 0).UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE import_jobs SET state = ? WHERE id = ?`, JobRunning, job.ID)
	if err != nil {
		return nil, nil, err
	}
	job.State = JobRunning

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	items, err := s.jobItems(ctx, job.ID)
	if err != nil {
		return nil, nil, err
	}
	return &job, items, nil
}

func (s Store) MarkJobSucceeded(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET state = ?, progress = 100 WHERE id = ?`, JobSucceeded, id)
	return err
}

func (s Store) MarkJobFailed(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET state = ?, error = ? WHERE id = ?`, JobFailed, message, id)
	return err
}

func (s Store) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET progress = ? WHERE id = ?`, progress, id)
	return err
}

func (s Store) UpdateJobItem(ctx context.Context, item ImportJobItem) error {
	counts, err := json.Marshal(item.Counts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE import_job_items SET state = ?, error = ?, counts = ? WHERE id = ?`,
		item.State, item.Error, string(counts), item.ID)
	return err
}

// --- plan state ---

func (s Store) GetEventStateByRef(ctx context.Context, eventRef string) (EventState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM events WHERE source_event_id = ? OR source_url = ? LIMIT 1`,
		eventRef, eventRef)

	var eventID string
	err := row.Scan(&eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return EventState{}, nil
	}
	if err != nil {
		return EventState{}, err
	}

	state := EventState{Exists: true, SessionLapCounts: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.source_session_id, COUNT(l.id)
		FROM sessions s
		LEFT JOIN laps l ON l.session_id = s.id
		WHERE s.event_id = ?
		GROUP BY s.id`, eventID)
	if err != nil {
		return EventState{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var sourceSessionID string
		var lapCount int
		if err := rows.Scan(&sourceSessionID, &lapCount); err != nil {
			return EventState{}, err
		}
		state.Sessions++
		state.Laps += lapCount
		state.SessionLapCounts[sourceSessionID] = lapCount
	}
	if err := rows.Err(); err != nil {
		return EventState{}, err
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entrants WHERE event_id = ?`, eventID)
	if err := row.Scan(&state.Entrants); err != nil {
		return EventState{}, err
	}
	return state, nil
}

// --- clubs ---

func (s Store) UpsertByLiveRcSubdomain(ctx context.Context, club Club) (Club, error) {
	if club.LiveRcSubdomain == "" {
		return Club{}, fmt.Errorf("club is missing its subdomain")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clubs (id, liverc_subdomain, display_name, active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (liverc_subdomain) DO UPDATE SET
			display_name = excluded.display_name,
			active = 1`,
		uuid.NewString(), club.LiveRcSubdomain, club.DisplayName,
	)
	if err != nil {
		return Club{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM clubs WHERE liverc_subdomain = ?`, club.LiveRcSubdomain)
	if err := row.Scan(&club.ID); err != nil {
		return Club{}, err
	}
	club.Active = true
	return club, nil
}

func (s Store) MarkInactiveClubsNotInSubdomains(ctx context.Context, subdomains []string) error {
	if len(subdomains) == 0 {
		_, err := s.db.ExecContext(ctx, `UPDATE clubs SET active = 0`)
		return err
	}

	placeholders := strings.Repeat("?,", len(subdomains))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(subdomains))
	for i, sub := range subdomains {
		args[i] = sub
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE clubs SET active = 0 WHERE liverc_subdomain NOT IN (`+placeholders+`)`,
		args...,
	)
	return err
}

func (s Store) SearchByDisplayName(ctx context.Context, query string) ([]Club, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, liverc_subdomain, display_name, active FROM clubs
		WHERE active = 1 AND display_name LIKE '%' || ? || '%'
		ORDER BY display_name`, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanClubs(rows)
}

func (s Store) ListActiveClubs(ctx context.Context) ([]Club, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, liverc_subdomain, display_name, active FROM clubs
		WHERE active = 1 ORDER BY display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanClubs(rows)
}

func scanClubs(rows *sql.Rows) ([]Club, error) {
	var clubs []Club
	for rows.Next() {
		var club Club
		var active int
		err := rows.Scan(&club.ID, &club.LiveRcSubdomain, &club.DisplayName, &active)
		if err != nil {
			return nil, err
		}
		club.Active = active != 0
		clubs = append(clubs, club)
	}
	return clubs, rows.Err()
}

func (s Store) FindById(ctx context.Context, id string) (*Club, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, liverc_subdomain, display_name, active FROM clubs WHERE id = ?`, id)

	var club Club
	var active int
	err := row.Scan(&club.ID, &club.LiveRcSubdomain, &club.DisplayName, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	club.Active = active != 0
	return &club, nil
}
