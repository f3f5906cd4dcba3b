package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"foodsafe-workflow/internal/models"
	"foodsafe-workflow/internal/status"
)

// Postgres implements Store on top of pgxpool. Status columns hold the
// canonical string form; reads go through the status registry so legacy
// spellings written by the old REST layer still normalize.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *Postgres) InsertCAPA(ctx context.Context, c models.CAPA) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO capas (id, title, description, status, priority, source, source_id, created_by, assigned_to,
		                   due_date, completion_date, verification_date, effectiveness_rating, effectiveness_verified,
		                   created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`, c.ID, c.Title, c.Description, status.ToStorage(c.Status), status.ToStorage(c.Priority),
		status.ToStorage(c.Source), c.SourceID, c.CreatedBy, c.AssignedTo,
		c.DueDate, c.CompletionDate, c.VerificationDate, c.EffectivenessRating, c.EffectivenessVerified,
		c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert capa: %w", err)
	}
	return nil
}

func (p *Postgres) GetCAPA(ctx context.Context, id string) (models.CAPA, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, title, description, status, priority, source, source_id, created_by, assigned_to,
		       due_date, completion_date, verification_date, effectiveness_rating, effectiveness_verified,
		       created_at, updated_at
		FROM capas WHERE id = $1
	`, id)
	c, err := scanCAPA(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CAPA{}, fmt.Errorf("capa %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.CAPA{}, fmt.Errorf("scan capa: %w", err)
	}
	return c, nil
}

func scanCAPA(row pgx.Row) (models.CAPA, error) {
	var (
		c          models.CAPA
		st, pr, sc string
		sourceID   pgtype.Text
		assignedTo pgtype.Text
		rating     pgtype.Int4
	)
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &st, &pr, &sc, &sourceID, &c.CreatedBy, &assignedTo,
		&c.DueDate, &c.CompletionDate, &c.VerificationDate, &rating, &c.EffectivenessVerified,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return models.CAPA{}, err
	}
	c.Status = status.ParseCAPA(st)
	c.Priority = status.ParsePriority(pr)
	c.Source = status.ParseSource(sc)
	c.SourceID = textPtr(sourceID)
	c.AssignedTo = textPtr(assignedTo)
	if rating.Valid {
		v := int(rating.Int32)
		c.EffectivenessRating = &v
	}
	return c, nil
}

func (p *Postgres) UpdateCAPAStatus(ctx context.Context, id string, st status.CAPAStatus, completion *time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE capas
		SET status = $2, completion_date = COALESCE($3, completion_date), updated_at = NOW()
		WHERE id = $1
	`, id, status.ToStorage(st), completion)
	if err != nil {
		return fmt.Errorf("update capa status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("capa %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) SetCAPAEffectiveness(ctx context.Context, id string, rating int, verifiedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE capas
		SET effectiveness_rating = $2, effectiveness_verified = TRUE, verification_date = $3, updated_at = NOW()
		WHERE id = $1
	`, id, rating, verifiedAt)
	if err != nil {
		return fmt.Errorf("set capa effectiveness: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("capa %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) ListCAPAs(ctx context.Context, f CAPAFilter) ([]models.CAPA, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Statuses) > 0 {
		stored := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			stored = append(stored, status.ToStorage(st))
		}
		conds = append(conds, "status = ANY("+arg(stored)+")")
	}
	if f.DueBefore != nil {
		conds = append(conds, "due_date < "+arg(*f.DueBefore))
	}
	if f.DueAfter != nil {
		conds = append(conds, "due_date >= "+arg(*f.DueAfter))
	}
	if f.ClosedBefore != nil {
		conds = append(conds, "completion_date < "+arg(*f.ClosedBefore))
	}
	if f.Unverified {
		conds = append(conds, "NOT effectiveness_verified")
	}
	if f.AfterID != "" {
		conds = append(conds, "id > "+arg(f.AfterID))
	}

	q := `
		SELECT id, title, description, status, priority, source, source_id, created_by, assigned_to,
		       due_date, completion_date, verification_date, effectiveness_rating, effectiveness_verified,
		       created_at, updated_at
		FROM capas`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list capas: %w", err)
	}
	defer rows.Close()

	var out []models.CAPA
	for rows.Next() {
		c, err := scanCAPA(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capa row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) FindCAPABySource(ctx context.Context, source status.CAPASource, sourceID string) (models.CAPA, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, title, description, status, priority, source, source_id, created_by, assigned_to,
		       due_date, completion_date, verification_date, effectiveness_rating, effectiveness_verified,
		       created_at, updated_at
		FROM capas WHERE source = $1 AND source_id = $2
	`, status.ToStorage(source), sourceID)
	c, err := scanCAPA(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CAPA{}, fmt.Errorf("capa for %s %s: %w", source, sourceID, ErrNotFound)
	}
	if err != nil {
		return models.CAPA{}, fmt.Errorf("scan capa: %w", err)
	}
	return c, nil
}

func (p *Postgres) MarkCAPAOverdue(ctx context.Context, id string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE capas SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, status.ToStorage(status.CAPAOverdue),
		[]string{status.ToStorage(status.CAPAOpen), status.ToStorage(status.CAPAInProgress)})
	if err != nil {
		return false, fmt.Errorf("mark capa overdue: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) InsertNC(ctx context.Context, nc models.NonConformance) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO non_conformances (id, title, description, status, quantity, quantity_on_hold, capa_id,
		                              created_by, assigned_to, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, nc.ID, nc.Title, nc.Description, status.ToStorage(nc.Status), nc.Quantity, nc.QuantityOnHold,
		nc.CAPAID, nc.CreatedBy, nc.AssignedTo, nc.DueDate, nc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert non-conformance: %w", err)
	}
	return nil
}

func (p *Postgres) GetNC(ctx context.Context, id string) (models.NonConformance, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, title, description, status, quantity, quantity_on_hold, capa_id,
		       created_by, assigned_to, due_date, created_at, updated_at
		FROM non_conformances WHERE id = $1
	`, id)

	var (
		nc         models.NonConformance
		st         string
		capaID     pgtype.Text
		assignedTo pgtype.Text
	)
	err := row.Scan(&nc.ID, &nc.Title, &nc.Description, &st, &nc.Quantity, &nc.QuantityOnHold, &capaID,
		&nc.CreatedBy, &assignedTo, &nc.DueDate, &nc.CreatedAt, &nc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NonConformance{}, fmt.Errorf("non-conformance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.NonConformance{}, fmt.Errorf("scan non-conformance: %w", err)
	}
	nc.Status = status.ParseNC(st)
	nc.CAPAID = textPtr(capaID)
	nc.AssignedTo = textPtr(assignedTo)
	return nc, nil
}

func (p *Postgres) UpdateNCStatus(ctx context.Context, id string, st status.NCStatus) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE non_conformances SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status.ToStorage(st))
	if err != nil {
		return fmt.Errorf("update non-conformance status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("non-conformance %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) SetNCCAPARef(ctx context.Context, id, capaID string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE non_conformances SET capa_id = $2, updated_at = NOW() WHERE id = $1
	`, id, capaID)
	if err != nil {
		return fmt.Errorf("set non-conformance capa ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("non-conformance %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) InsertComplaint(ctx context.Context, c models.Complaint) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO complaints (id, title, description, status, category, capa_id,
		                        created_by, assigned_to, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, c.ID, c.Title, c.Description, status.ToStorage(c.Status), status.ToStorage(c.Category),
		c.CAPAID, c.CreatedBy, c.AssignedTo, c.DueDate, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert complaint: %w", err)
	}
	return nil
}

func (p *Postgres) GetComplaint(ctx context.Context, id string) (models.Complaint, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, title, description, status, category, capa_id,
		       created_by, assigned_to, due_date, created_at, updated_at
		FROM complaints WHERE id = $1
	`, id)

	var (
		c          models.Complaint
		st, cat    string
		capaID     pgtype.Text
		assignedTo pgtype.Text
	)
	err := row.Scan(&c.ID, &c.Title, &c.Description, &st, &cat, &capaID,
		&c.CreatedBy, &assignedTo, &c.DueDate, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Complaint{}, fmt.Errorf("complaint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Complaint{}, fmt.Errorf("scan complaint: %w", err)
	}
	c.Status = status.ParseComplaint(st)
	c.Category = status.ParseCategory(cat)
	c.CAPAID = textPtr(capaID)
	c.AssignedTo = textPtr(assignedTo)
	return c, nil
}

func (p *Postgres) UpdateComplaintStatus(ctx context.Context, id string, st status.ComplaintStatus) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE complaints SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status.ToStorage(st))
	if err != nil {
		return fmt.Errorf("update complaint status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complaint %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) SetComplaintCAPARef(ctx context.Context, id, capaID string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE complaints SET capa_id = $2, updated_at = NOW() WHERE id = $1
	`, id, capaID)
	if err != nil {
		return fmt.Errorf("set complaint capa ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complaint %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) InsertDocument(ctx context.Context, d models.Document) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents (id, title, status, checkout_status, checked_out_by, version, expiry_date,
		                       created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, d.ID, d.Title, status.ToStorage(d.Status), status.ToStorage(d.CheckoutStatus),
		d.CheckedOutBy, d.Version, d.ExpiryDate, d.CreatedBy, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (models.Document, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, title, status, checkout_status, checked_out_by, version, expiry_date,
		       created_by, created_at, updated_at
		FROM documents WHERE id = $1
	`, id)

	var (
		d            models.Document
		st, checkout string
		checkedOutBy pgtype.Text
	)
	err := row.Scan(&d.ID, &d.Title, &st, &checkout, &checkedOutBy, &d.Version, &d.ExpiryDate,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("scan document: %w", err)
	}
	d.Status = status.ParseDocument(st)
	d.CheckoutStatus = status.ParseCheckout(checkout)
	d.CheckedOutBy = textPtr(checkedOutBy)
	return d, nil
}

func (p *Postgres) UpdateDocumentStatus(ctx context.Context, id string, st status.DocumentStatus) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status.ToStorage(st))
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) SetDocumentCheckout(ctx context.Context, id string, st status.CheckoutStatus, by *string, version int) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents SET checkout_status = $2, checked_out_by = $3, version = $4, updated_at = NOW()
		WHERE id = $1
	`, id, status.ToStorage(st), by, version)
	if err != nil {
		return fmt.Errorf("set document checkout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) AppendActivity(ctx context.Context, a models.Activity) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO activities (id, record_id, action_type, description, performed_by, old_status, new_status, metadata, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.RecordID, a.ActionType, a.Description, a.PerformedBy, a.OldStatus, a.NewStatus, metadata, a.PerformedAt)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (p *Postgres) ListActivities(ctx context.Context, recordID string, order Order) ([]models.Activity, error) {
	dir := "ASC"
	if order == OrderDesc {
		dir = "DESC"
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, record_id, action_type, description, performed_by, old_status, new_status, metadata, performed_at
		FROM activities WHERE record_id = $1 ORDER BY performed_at `+dir,
		recordID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []models.Activity
	for rows.Next() {
		var (
			a        models.Activity
			oldSt    pgtype.Text
			newSt    pgtype.Text
			metadata []byte
		)
		if err := rows.Scan(&a.ID, &a.RecordID, &a.ActionType, &a.Description, &a.PerformedBy,
			&oldSt, &newSt, &metadata, &a.PerformedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.OldStatus = textPtr(oldSt)
		a.NewStatus = textPtr(newSt)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal activity metadata: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
