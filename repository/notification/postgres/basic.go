package postgres

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/warunk-dev/resto-core/repository/notification"
	"github.com/warunk-dev/resto-core/types/entity"
	types "github.com/warunk-dev/resto-core/types/http"
)

var _ notification.Repository = &handler{}

// Schema of the backing table. Executed by the wiring code on startup;
// retention/cleanup of old rows is owned by the operator, not this module.
const Schema = `
CREATE TABLE IF NOT EXISTS notification (
	id                BIGSERIAL PRIMARY KEY,
	topic             TEXT NOT NULL,
	target_id         TEXT,
	related_entity_id TEXT,
	title             TEXT NOT NULL DEFAULT '',
	body              TEXT NOT NULL DEFAULT '',
	seen              BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS notification_topic_target_idx
	ON notification (topic, target_id, seen, created_at DESC);
`

type handler struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *handler {
	return &handler{
		db: db,
	}
}

type row struct {
	ID              int64          `db:"id"`
	Topic           string         `db:"topic"`
	TargetID        sql.NullString `db:"target_id"`
	RelatedEntityID sql.NullString `db:"related_entity_id"`
	Title           string         `db:"title"`
	Body            string         `db:"body"`
	Seen            bool           `db:"seen"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r row) toEntity() entity.Notification {
	n := entity.Notification{
		ID:        r.ID,
		Topic:     r.Topic,
		Title:     r.Title,
		Body:      r.Body,
		Seen:      r.Seen,
		CreatedAt: r.CreatedAt,
	}
	if r.TargetID.Valid {
		v := r.TargetID.String
		n.TargetID = &v
	}
	if r.RelatedEntityID.Valid {
		v := r.RelatedEntityID.String
		n.RelatedEntityID = &v
	}
	return n
}

func storeError(err error) *types.CommonError {
	return &types.CommonError{
		Errors: []types.Error{
			{
				HTTPCode: http.StatusServiceUnavailable,
				Code:     "STORE_UNAVAILABLE",
				Message:  "Notification store failed: " + err.Error(),
			},
		},
	}
}

func (h *handler) Create(ctx context.Context, n entity.Notification) (entity.Notification, *types.CommonError) {
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var target, related sql.NullString
	if n.TargetID != nil && *n.TargetID != "" {
		target = sql.NullString{String: *n.TargetID, Valid: true}
	}
	if n.RelatedEntityID != nil && *n.RelatedEntityID != "" {
		related = sql.NullString{String: *n.RelatedEntityID, Valid: true}
	}

	var out row
	err := h.db.QueryRowxContext(ctx, `
		INSERT INTO notification (topic, target_id, related_entity_id, title, body, seen, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		RETURNING id, topic, target_id, related_entity_id, title, body, seen, created_at`,
		n.Topic, target, related, n.Title, n.Body, createdAt,
	).StructScan(&out)
	if err != nil {
		return entity.Notification{}, storeError(err)
	}

	return out.toEntity(), nil
}

func (h *handler) ListAddressed(ctx context.Context, topic, targetID string, limit int) ([]entity.Notification, *types.CommonError) {
	var rows []row
	err := h.db.SelectContext(ctx, &rows, `
		SELECT id, topic, target_id, related_entity_id, title, body, seen, created_at
		FROM notification
		WHERE topic = $1 AND target_id = $2
		ORDER BY seen ASC, created_at DESC, id DESC
		LIMIT $3`,
		topic, targetID, limit,
	)
	if err != nil {
		return nil, storeError(err)
	}

	return toEntities(rows), nil
}

func (h *handler) ListBroadcast(ctx context.Context, topic string, limit, offset int) ([]entity.Notification, *types.CommonError) {
	var rows []row
	err := h.db.SelectContext(ctx, &rows, `
		SELECT id, topic, target_id, related_entity_id, title, body, seen, created_at
		FROM notification
		WHERE topic = $1 AND target_id IS NULL
		ORDER BY seen ASC, created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		topic, limit, offset,
	)
	if err != nil {
		return nil, storeError(err)
	}

	return toEntities(rows), nil
}

func (h *handler) MarkSeen(ctx context.Context, id int64) *types.CommonError {
	res, err := h.db.ExecContext(ctx, `UPDATE notification SET seen = TRUE WHERE id = $1`, id)
	if err != nil {
		return storeError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storeError(err)
	}
	if affected == 0 {
		return &types.CommonError{
			Errors: []types.Error{
				{
					HTTPCode: http.StatusNotFound,
					Code:     "NOT_FOUND",
					Message:  "You specify item ID, but the specified ID is not found.",
				},
			},
		}
	}

	return nil
}

func (h *handler) MarkAllSeen(ctx context.Context, topic, targetID string) (int64, *types.CommonError) {
	res, err := h.db.ExecContext(ctx, `
		UPDATE notification SET seen = TRUE
		WHERE topic = $1 AND seen = FALSE AND (target_id = $2 OR target_id IS NULL)`,
		topic, targetID,
	)
	if err != nil {
		return 0, storeError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storeError(err)
	}

	return affected, nil
}

func toEntities(rows []row) []entity.Notification {
	result := make([]entity.Notification, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toEntity())
	}
	return result
}
