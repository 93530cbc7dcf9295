package store

import (
	"context"
	"fmt"

	"github.com/dukerupert/daostore/internal/model"
)

type PushStore struct {
	db Querier
}

func NewPushStore(db Querier) *PushStore {
	return &PushStore{db: db}
}

const pushCols = `id, member_id, endpoint, p256dh_key, auth_key, created_at`

func scanSubscription(row scanner) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := row.Scan(&sub.ID, &sub.MemberID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.CreatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Upsert stores a subscription. Re-subscribing an endpoint replaces its
// keys and owner.
func (s *PushStore) Upsert(ctx context.Context, memberID int64, endpoint, p256dh, auth string) (*model.PushSubscription, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (member_id, endpoint, p256dh_key, auth_key)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET member_id = excluded.member_id,
		 p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key`,
		memberID, endpoint, p256dh, auth,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+pushCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	return sub, nil
}

func (s *PushStore) ListByMember(ctx context.Context, memberID int64) ([]model.PushSubscription, error) {
	return s.list(ctx, "list push subscriptions by member",
		`SELECT `+pushCols+` FROM push_subscriptions WHERE member_id = ? ORDER BY id`, memberID)
}

func (s *PushStore) ListAll(ctx context.Context) ([]model.PushSubscription, error) {
	return s.list(ctx, "list push subscriptions", `SELECT `+pushCols+` FROM push_subscriptions ORDER BY id`)
}

func (s *PushStore) list(ctx context.Context, op, q string, args ...any) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// DeleteByEndpoint removes a subscription. Only the owning member's row is
// touched unless memberID is zero.
func (s *PushStore) DeleteByEndpoint(ctx context.Context, memberID int64, endpoint string) error {
	var err error
	if memberID == 0 {
		_, err = s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ? AND member_id = ?`, endpoint, memberID)
	}
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

