package encounter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const encounterColumns = `
	id, global_sequence, patient_id, provider_id,
	to_char(encounter_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'),
	kind, duration_units, hour_sequence, reason, status, video_room_id,
	report, report_due_at, report_submitted_at, report_locked_at, reminder_sent_at,
	interaction_closed_at, provider_joined_at, patient_joined_at, overlap_seconds, audit_log,
	dispute_raised_at, dispute_raised_by, dispute_resolved_at, dispute_resolution,
	created_at, updated_at`

// Helpers

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var (
		e                 Encounter
		reportRaw         []byte
		auditRaw          []byte
		disputeRaisedBy   *string
		disputeResolution *string
	)

	err := row.Scan(
		&e.ID,
		&e.GlobalSequence,
		&e.PatientID,
		&e.ProviderID,
		&e.Date,
		&e.StartTime,
		&e.Kind,
		&e.DurationUnits,
		&e.HourSequence,
		&e.Reason,
		&e.Status,
		&e.VideoRoomID,
		&reportRaw,
		&e.ReportDueAt,
		&e.ReportSubmittedAt,
		&e.ReportLockedAt,
		&e.ReminderSentAt,
		&e.InteractionClosedAt,
		&e.ProviderJoinedAt,
		&e.PatientJoinedAt,
		&e.OverlapSeconds,
		&auditRaw,
		&e.DisputeRaisedAt,
		&disputeRaisedBy,
		&e.DisputeResolvedAt,
		&disputeResolution,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEncounterNotFound
		}
		return nil, err
	}

	if len(reportRaw) > 0 {
		var rep Report
		if err := json.Unmarshal(reportRaw, &rep); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		e.Report = &rep
	}
	if len(auditRaw) > 0 {
		if err := json.Unmarshal(auditRaw, &e.AuditLog); err != nil {
			return nil, fmt.Errorf("decode audit log: %w", err)
		}
	}
	if disputeRaisedBy != nil {
		p := Party(*disputeRaisedBy)
		e.DisputeRaisedBy = &p
	}
	if disputeResolution != nil {
		r := Resolution(*disputeResolution)
		e.DisputeResolution = &r
	}

	return &e, nil
}

func scanEncounters(rows pgx.Rows) ([]Encounter, error) {
	defer rows.Close()

	var result []Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func auditEntryJSON(ev PresenceEvent) ([]byte, error) {
	// Wrapped in an array so jsonb concatenation appends one element.
	return json.Marshal([]PresenceEvent{ev})
}

func hourOf(startTime string) (int, error) {
	if len(startTime) < 2 {
		return 0, fmt.Errorf("bad start time %q", startTime)
	}
	h, err := strconv.Atoi(startTime[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad start time %q", startTime)
	}
	return h, nil
}

// Interface methods

// CreateEncounter commits a booking as a single transaction. An advisory
// lock on the (provider, date, hour) bucket serializes concurrent
// bookings so capacity is never oversold, independent of the Redis lock
// taken by the service.
func (r *PgRepository) CreateEncounter(ctx context.Context, p CreateParams, now time.Time) (*Encounter, error) {
	hour, err := hourOf(p.StartTime)
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	bucket := fmt.Sprintf("%s:%s:%02d", p.ProviderID, p.Date, hour)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, bucket); err != nil {
		return nil, fmt.Errorf("lock booking bucket: %w", err)
	}

	var used int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(duration_units), 0)::int
		FROM encounters
		WHERE provider_id = $1
		  AND encounter_date = $2::date
		  AND EXTRACT(HOUR FROM start_time) = $3
		  AND status IN ('pending', 'confirmed')
	`, p.ProviderID, p.Date, hour).Scan(&used)
	if err != nil {
		return nil, fmt.Errorf("read committed units: %w", err)
	}

	if UnitsPerHour-used < p.DurationUnits {
		return nil, ErrSlotUnavailable
	}

	var nextSeq int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(hour_sequence), 0) + 1
		FROM encounters
		WHERE provider_id = $1
		  AND encounter_date = $2::date
		  AND EXTRACT(HOUR FROM start_time) = $3
		  AND status IN ('pending', 'confirmed')
	`, p.ProviderID, p.Date, hour).Scan(&nextSeq)
	if err != nil {
		return nil, fmt.Errorf("next hour sequence: %w", err)
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO encounters (
			id, patient_id, provider_id, encounter_date, start_time,
			kind, duration_units, hour_sequence, reason, status,
			overlap_seconds, audit_log, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4::date, $5::time, $6, $7, $8, $9, 'pending', 0, '[]'::jsonb, $10, $10)
		RETURNING `+encounterColumns,
		id, p.PatientID, p.ProviderID, p.Date, p.StartTime+":00",
		p.Kind, p.DurationUnits, nextSeq, p.Reason, now,
	)

	created, err := scanEncounter(row)
	if err != nil {
		return nil, fmt.Errorf("insert encounter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit booking tx: %w", err)
	}

	return created, nil
}

func (r *PgRepository) GetEncounterByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+encounterColumns+`
		FROM encounters
		WHERE id = $1
	`, id)
	return scanEncounter(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Encounter, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+encounterColumns+`
		FROM encounters
		WHERE patient_id = $1
		ORDER BY encounter_date ASC, start_time ASC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return scanEncounters(rows)
}

func (r *PgRepository) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]Encounter, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+encounterColumns+`
		FROM encounters
		WHERE provider_id = $1
		ORDER BY CASE WHEN status IN ('pending', 'confirmed') THEN 0 ELSE 1 END,
		         global_sequence ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	return scanEncounters(rows)
}

func (r *PgRepository) ListPatientHistory(ctx context.Context, patientID uuid.UUID) ([]Encounter, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+encounterColumns+`
		FROM encounters
		WHERE patient_id = $1
		  AND report_submitted_at IS NOT NULL
		  AND status = 'completed'
		ORDER BY report_submitted_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return scanEncounters(rows)
}

func (r *PgRepository) CommittedUnitsByHour(ctx context.Context, providerID uuid.UUID, date string) (map[int]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT EXTRACT(HOUR FROM start_time)::int AS hour,
		       COALESCE(SUM(duration_units), 0)::int AS units
		FROM encounters
		WHERE provider_id = $1
		  AND encounter_date = $2::date
		  AND status IN ('pending', 'confirmed')
		GROUP BY EXTRACT(HOUR FROM start_time)
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make(map[int]int)
	for rows.Next() {
		var hour, units int
		if err := rows.Scan(&hour, &units); err != nil {
			return nil, err
		}
		usage[hour] = units
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return usage, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, providerID uuid.UUID, from, to Status, now time.Time) (*Encounter, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE encounters
		SET status = $4,
		    video_room_id = CASE
		      WHEN $4 = 'confirmed'
		        AND kind = 'remote'
		        AND (video_room_id IS NULL OR video_room_id = '')
		      THEN CONCAT('room-', SUBSTR(id::text, 1, 8), '-', SUBSTR(MD5(RANDOM()::text), 1, 10))
		      ELSE video_room_id
		    END,
		    report_due_at = CASE
		      WHEN $4 = 'completed' AND report_due_at IS NULL
		      THEN (encounter_date::timestamp + start_time + INTERVAL '24 hours')
		      ELSE report_due_at
		    END,
		    updated_at = $5
		WHERE id = $1
		  AND provider_id = $2
		  AND status = $3
		RETURNING `+encounterColumns,
		id, providerID, from, to, now,
	)
	return scanEncounter(row)
}

func (r *PgRepository) SubmitReport(ctx context.Context, id uuid.UUID, providerID uuid.UUID, report Report, now time.Time) (*Encounter, error) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE encounters
		SET report = $3::jsonb,
		    report_submitted_at = COALESCE(report_submitted_at, $4),
		    report_due_at = CASE
		      WHEN report_due_at IS NULL
		      THEN (encounter_date::timestamp + start_time + INTERVAL '24 hours')
		      ELSE report_due_at
		    END,
		    interaction_closed_at = $4,
		    status = 'completed',
		    updated_at = $4
		WHERE id = $1
		  AND provider_id = $2
		  AND status IN ('confirmed', 'completed')
		  AND report_locked_at IS NULL
		  AND (report_submitted_at IS NULL OR report_submitted_at + INTERVAL '2 hours' > $4)
		RETURNING `+encounterColumns,
		id, providerID, reportJSON, now,
	)
	return scanEncounter(row)
}

func (r *PgRepository) RecordJoin(ctx context.Context, id uuid.UUID, party Party, actorID uuid.UUID, now time.Time) (*Encounter, error) {
	entry, err := auditEntryJSON(PresenceEvent{
		Event:   EventJoin,
		Party:   party,
		ActorID: actorID.String(),
		At:      now,
	})
	if err != nil {
		return nil, err
	}

	// First join wins; later joins only extend the audit log.
	column := "patient_joined_at"
	if party == PartyProvider {
		column = "provider_joined_at"
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE encounters
		SET `+column+` = COALESCE(`+column+`, $2),
		    audit_log = audit_log || $3::jsonb,
		    updated_at = $2
		WHERE id = $1
		RETURNING `+encounterColumns,
		id, now, entry,
	)
	return scanEncounter(row)
}

func (r *PgRepository) RecordLeave(ctx context.Context, id uuid.UUID, party Party, actorID uuid.UUID, now time.Time) (*Encounter, error) {
	entry, err := auditEntryJSON(PresenceEvent{
		Event:   EventLeave,
		Party:   party,
		ActorID: actorID.String(),
		At:      now,
	})
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE encounters
		SET overlap_seconds = CASE
		      WHEN provider_joined_at IS NOT NULL AND patient_joined_at IS NOT NULL
		      THEN GREATEST(0, EXTRACT(EPOCH FROM (
		        LEAST($2::timestamptz, COALESCE(interaction_closed_at, $2::timestamptz)) -
		        GREATEST(provider_joined_at, patient_joined_at)
		      ))::int)
		      ELSE 0
		    END,
		    audit_log = audit_log || $3::jsonb,
		    updated_at = $2
		WHERE id = $1
		RETURNING `+encounterColumns,
		id, now, entry,
	)
	return scanEncounter(row)
}

func (r *PgRepository) RaiseDispute(ctx context.Context, id uuid.UUID, raisedBy Party, reason string, now time.Time) (*Encounter, error) {
	entry, err := auditEntryJSON(PresenceEvent{
		Event:  EventDisputeRaised,
		Party:  raisedBy,
		Detail: reason,
		At:     now,
	})
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE encounters
		SET status = 'disputed',
		    dispute_raised_at = $2,
		    dispute_raised_by = $3,
		    audit_log = audit_log || $4::jsonb,
		    updated_at = $2
		WHERE id = $1
		  AND status IN ('confirmed', 'completed')
		RETURNING `+encounterColumns,
		id, now, raisedBy, entry,
	)
	return scanEncounter(row)
}

func (r *PgRepository) ResolveDispute(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy string, now time.Time) (*Encounter, error) {
	entry, err := auditEntryJSON(PresenceEvent{
		Event:   EventDisputeResolved,
		ActorID: resolvedBy,
		Detail:  string(resolution),
		At:      now,
	})
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE encounters
		SET status = $2,
		    dispute_resolved_at = $3,
		    dispute_resolution = $4,
		    audit_log = audit_log || $5::jsonb,
		    updated_at = $3
		WHERE id = $1
		  AND status = 'disputed'
		RETURNING `+encounterColumns,
		id, resolution.FinalStatus(), now, resolution, entry,
	)
	return scanEncounter(row)
}

func (r *PgRepository) MarkNoShow(ctx context.Context, id uuid.UUID, party Party, now time.Time) (*Encounter, error) {
	entry, err := auditEntryJSON(PresenceEvent{
		Event: EventNoShow,
		Party: party,
		At:    now,
	})
	if err != nil {
		return nil, err
	}

	// Only legal while confirmed and only against a party with no
	// recorded join.
	row := r.pool.QueryRow(ctx, `
		UPDATE encounters
		SET status = 'no_show',
		    audit_log = audit_log || $3::jsonb,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'confirmed'
		  AND (
		    (provider_joined_at IS NULL AND $4 = 'provider')
		    OR (patient_joined_at IS NULL AND $4 = 'patient')
		  )
		RETURNING `+encounterColumns,
		id, now, entry, party,
	)
	return scanEncounter(row)
}

func (r *PgRepository) LockExpiredReports(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE encounters
		SET report_locked_at = $1,
		    updated_at = $1
		WHERE report_submitted_at IS NOT NULL
		  AND report_locked_at IS NULL
		  AND report_submitted_at + INTERVAL '2 hours' <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("lock expired reports: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) FindReportsPastDue(ctx context.Context, now time.Time) ([]Encounter, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+encounterColumns+`
		FROM encounters
		WHERE status = 'completed'
		  AND report_submitted_at IS NULL
		  AND interaction_closed_at IS NULL
		  AND report_due_at IS NOT NULL
		  AND report_due_at <= $1
		  AND reminder_sent_at IS NULL
	`, now)
	if err != nil {
		return nil, err
	}
	return scanEncounters(rows)
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE encounters
		SET reminder_sent_at = COALESCE(reminder_sent_at, $2),
		    updated_at = $2
		WHERE id = $1
	`, id, now)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}
