package subscription

import (
	"context"
	"fmt"

	"github.com/lalith-99/courier/internal/models"
)

// SetDefaultStreams replaces the streams new users of realm are subscribed
// to. Missing streams are created.
func (l *Ledger) SetDefaultStreams(ctx context.Context, realm *models.Realm, names []string) ([]models.Stream, error) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		st, _, err := l.resolver.ResolveStream(ctx, realm.ID, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, st.ID)
	}

	err := l.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		return l.store.DefaultStreams.Replace(ctx, realm.ID, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("set default streams: %w", err)
	}
	return l.DefaultStreams(ctx, realm.ID)
}

func (l *Ledger) DefaultStreams(ctx context.Context, realmID int64) ([]models.Stream, error) {
	streams, err := l.store.DefaultStreams.ListStreams(ctx, realmID)
	if err != nil {
		return nil, fmt.Errorf("list default streams: %w", err)
	}
	return streams, nil
}

// AddDefaultSubscriptions subscribes user to each of its realm's default
// streams and returns how many subscriptions changed.
func (l *Ledger) AddDefaultSubscriptions(ctx context.Context, user *models.UserProfile, opts ...Option) (int, error) {
	streams, err := l.DefaultStreams(ctx, user.RealmID)
	if err != nil {
		return 0, err
	}
	added := 0
	for i := range streams {
		changed, err := l.Add(ctx, user, &streams[i], opts...)
		if err != nil {
			return added, err
		}
		if changed {
			added++
		}
	}
	return added, nil
}
