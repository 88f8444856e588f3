package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/lalith-99/courier/internal/models"
)

type realmRepo struct{ s *Store }

func (r realmRepo) Create(ctx context.Context, domain string, plainTextOnly bool) (*models.Realm, error) {
	var out models.Realm
	err := r.s.write(ctx, func(d *data) error {
		for _, existing := range d.realms {
			if existing.Domain == domain {
				return conflict("insert realm")
			}
		}
		out = models.Realm{ID: d.id(), Domain: domain, PlainTextOnly: plainTextOnly, CreatedAt: time.Now()}
		d.realms[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r realmRepo) GetByID(_ context.Context, id int64) (*models.Realm, error) {
	var out *models.Realm
	r.s.read(func(d *data) {
		if v, ok := d.realms[id]; ok {
			out = &v
		}
	})
	return out, nil
}

func (r realmRepo) GetByDomain(_ context.Context, domain string) (*models.Realm, error) {
	var out *models.Realm
	r.s.read(func(d *data) {
		for _, v := range d.realms {
			if v.Domain == domain {
				out = &v
				return
			}
		}
	})
	return out, nil
}

type userRepo struct{ s *Store }

func (r userRepo) Create(ctx context.Context, u *models.UserProfile) error {
	return r.s.write(ctx, func(d *data) error {
		for _, existing := range d.users {
			if strings.EqualFold(existing.Email, u.Email) {
				return conflict("insert user")
			}
		}
		u.ID = d.id()
		u.DateJoined = time.Now()
		d.users[u.ID] = *u
		return nil
	})
}

func (r userRepo) GetByID(_ context.Context, id int64) (*models.UserProfile, error) {
	var out *models.UserProfile
	r.s.read(func(d *data) {
		if v, ok := d.users[id]; ok {
			out = &v
		}
	})
	return out, nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*models.UserProfile, error) {
	var out *models.UserProfile
	r.s.read(func(d *data) {
		for _, v := range d.users {
			if strings.EqualFold(v.Email, email) {
				out = &v
				return
			}
		}
	})
	return out, nil
}

func (r userRepo) GetByIDs(_ context.Context, ids []int64) ([]models.UserProfile, error) {
	users := make([]models.UserProfile, 0, len(ids))
	r.s.read(func(d *data) {
		seen := make(map[int64]bool, len(ids))
		for _, id := range ids {
			if v, ok := d.users[id]; ok && !seen[id] {
				seen[id] = true
				users = append(users, v)
			}
		}
	})
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r userRepo) ListByEmails(_ context.Context, realmID int64, emails []string) ([]models.UserProfile, error) {
	want := make(map[string]bool, len(emails))
	for _, e := range emails {
		want[strings.ToLower(e)] = true
	}
	users := make([]models.UserProfile, 0, len(emails))
	r.s.read(func(d *data) {
		for _, v := range d.users {
			if v.RealmID == realmID && want[strings.ToLower(v.Email)] {
				users = append(users, v)
			}
		}
	})
	sortByEmail(users)
	return users, nil
}

func (r userRepo) SetActive(ctx context.Context, id int64, active bool) error {
	return r.update(ctx, id, func(u *models.UserProfile) { u.IsActive = active })
}

func (r userRepo) SetFullName(ctx context.Context, id int64, fullName string) error {
	return r.update(ctx, id, func(u *models.UserProfile) { u.FullName = fullName })
}

func (r userRepo) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return r.update(ctx, id, func(u *models.UserProfile) { u.PasswordHash = hash })
}

func (r userRepo) SetEnableDesktopNotifications(ctx context.Context, id int64, enabled bool) error {
	return r.update(ctx, id, func(u *models.UserProfile) { u.EnableDesktopNotifications = enabled })
}

func (r userRepo) SetPointer(ctx context.Context, id int64, pointer int64, updater string) error {
	return r.update(ctx, id, func(u *models.UserProfile) {
		u.Pointer = pointer
		u.LastPointerUpdater = updater
	})
}

func (r userRepo) update(ctx context.Context, id int64, fn func(u *models.UserProfile)) error {
	return r.s.write(ctx, func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return notFound("update user")
		}
		fn(&u)
		d.users[id] = u
		return nil
	})
}

func sortByEmail(users []models.UserProfile) {
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
}

type clientRepo struct{ s *Store }

func (r clientRepo) Create(ctx context.Context, name string) (*models.Client, error) {
	var out models.Client
	err := r.s.write(ctx, func(d *data) error {
		for _, existing := range d.clients {
			if existing.Name == name {
				return conflict("insert client")
			}
		}
		out = models.Client{ID: d.id(), Name: name}
		d.clients[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r clientRepo) GetByName(_ context.Context, name string) (*models.Client, error) {
	var out *models.Client
	r.s.read(func(d *data) {
		for _, v := range d.clients {
			if v.Name == name {
				out = &v
				return
			}
		}
	})
	return out, nil
}

func (r clientRepo) GetByID(_ context.Context, id int64) (*models.Client, error) {
	var out *models.Client
	r.s.read(func(d *data) {
		if v, ok := d.clients[id]; ok {
			out = &v
		}
	})
	return out, nil
}

type streamRepo struct{ s *Store }

func (r streamRepo) Create(ctx context.Context, realmID int64, name string) (*models.Stream, error) {
	var out models.Stream
	err := r.s.write(ctx, func(d *data) error {
		for _, existing := range d.streams {
			if existing.RealmID == realmID && strings.EqualFold(existing.Name, name) {
				return conflict("insert stream")
			}
		}
		out = models.Stream{ID: d.id(), RealmID: realmID, Name: name}
		d.streams[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r streamRepo) GetByID(_ context.Context, id int64) (*models.Stream, error) {
	var out *models.Stream
	r.s.read(func(d *data) {
		if v, ok := d.streams[id]; ok {
			out = &v
		}
	})
	return out, nil
}

func (r streamRepo) GetByName(_ context.Context, realmID int64, name string) (*models.Stream, error) {
	var out *models.Stream
	r.s.read(func(d *data) {
		for _, v := range d.streams {
			if v.RealmID == realmID && strings.EqualFold(v.Name, name) {
				out = &v
				return
			}
		}
	})
	return out, nil
}

type recipientRepo struct{ s *Store }

func (r recipientRepo) Create(ctx context.Context, typ models.RecipientType, typeID int64) (*models.Recipient, error) {
	var out models.Recipient
	err := r.s.write(ctx, func(d *data) error {
		for _, existing := range d.recipients {
			if existing.Type == typ && existing.TypeID == typeID {
				return conflict("insert recipient")
			}
		}
		out = models.Recipient{ID: d.id(), Type: typ, TypeID: typeID}
		d.recipients[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r recipientRepo) GetByID(_ context.Context, id int64) (*models.Recipient, error) {
	var out *models.Recipient
	r.s.read(func(d *data) {
		if v, ok := d.recipients[id]; ok {
			out = &v
		}
	})
	return out, nil
}

func (r recipientRepo) Get(_ context.Context, typ models.RecipientType, typeID int64) (*models.Recipient, error) {
	var out *models.Recipient
	r.s.read(func(d *data) {
		for _, v := range d.recipients {
			if v.Type == typ && v.TypeID == typeID {
				out = &v
				return
			}
		}
	})
	return out, nil
}

type huddleRepo struct{ s *Store }

func (r huddleRepo) Create(ctx context.Context, hash string) (*models.Huddle, error) {
	var out models.Huddle
	err := r.s.write(ctx, func(d *data) error {
		for _, existing := range d.huddles {
			if existing.Hash == hash {
				return conflict("insert huddle")
			}
		}
		out = models.Huddle{ID: d.id(), Hash: hash}
		d.huddles[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r huddleRepo) GetByHash(_ context.Context, hash string) (*models.Huddle, error) {
	var out *models.Huddle
	r.s.read(func(d *data) {
		for _, v := range d.huddles {
			if v.Hash == hash {
				out = &v
				return
			}
		}
	})
	return out, nil
}

type subscriptionRepo struct{ s *Store }

func (r subscriptionRepo) Create(ctx context.Context, userID, recipientID int64, active bool) (*models.Subscription, error) {
	var out models.Subscription
	err := r.s.write(ctx, func(d *data) error {
		for _, existing := range d.subs {
			if existing.UserID == userID && existing.RecipientID == recipientID {
				return conflict("insert subscription")
			}
		}
		out = models.Subscription{ID: d.id(), UserID: userID, RecipientID: recipientID, Active: active}
		d.subs[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r subscriptionRepo) Get(_ context.Context, userID, recipientID int64) (*models.Subscription, error) {
	var out *models.Subscription
	r.s.read(func(d *data) {
		for _, v := range d.subs {
			if v.UserID == userID && v.RecipientID == recipientID {
				out = &v
				return
			}
		}
	})
	return out, nil
}

func (r subscriptionRepo) SetActive(ctx context.Context, id int64, active bool) error {
	return r.update(ctx, id, func(s *models.Subscription) { s.Active = active })
}

func (r subscriptionRepo) SetColor(ctx context.Context, id int64, color string) error {
	return r.update(ctx, id, func(s *models.Subscription) { s.Color = color })
}

func (r subscriptionRepo) update(ctx context.Context, id int64, fn func(s *models.Subscription)) error {
	return r.s.write(ctx, func(d *data) error {
		sub, ok := d.subs[id]
		if !ok {
			return notFound("update subscription")
		}
		fn(&sub)
		d.subs[id] = sub
		return nil
	})
}

func (r subscriptionRepo) ListActiveSubscribers(_ context.Context, recipientID int64) ([]models.UserProfile, error) {
	users := make([]models.UserProfile, 0)
	r.s.read(func(d *data) {
		for _, sub := range d.subs {
			if sub.RecipientID != recipientID || !sub.Active {
				continue
			}
			if u, ok := d.users[sub.UserID]; ok {
				users = append(users, u)
			}
		}
	})
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r subscriptionRepo) ListMembers(_ context.Context, recipientID int64) ([]models.UserProfile, error) {
	users := make([]models.UserProfile, 0)
	r.s.read(func(d *data) {
		for _, sub := range d.subs {
			if sub.RecipientID != recipientID {
				continue
			}
			if u, ok := d.users[sub.UserID]; ok {
				users = append(users, u)
			}
		}
	})
	sortByEmail(users)
	return users, nil
}

func (r subscriptionRepo) ListPrivateRecipientIDs(_ context.Context, userID int64) ([]int64, error) {
	ids := make([]int64, 0)
	r.s.read(func(d *data) {
		for _, sub := range d.subs {
			if sub.UserID != userID {
				continue
			}
			if rc, ok := d.recipients[sub.RecipientID]; ok && rc.Type != models.RecipientStream {
				ids = append(ids, rc.ID)
			}
		}
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type messageRepo struct{ s *Store }

func (r messageRepo) Create(ctx context.Context, m *models.Message) error {
	return r.s.write(ctx, func(d *data) error {
		m.ID = d.id()
		d.messages[m.ID] = *m
		return nil
	})
}

func (r messageRepo) GetByID(_ context.Context, id int64) (*models.Message, error) {
	var out *models.Message
	r.s.read(func(d *data) {
		if v, ok := d.messages[id]; ok {
			out = &v
		}
	})
	return out, nil
}

func (r messageRepo) RemoveUnreachable(ctx context.Context) (int64, error) {
	var removed int64
	err := r.s.write(ctx, func(d *data) error {
		reachable := make(map[int64]bool, len(d.userMessages))
		for _, um := range d.userMessages {
			reachable[um.MessageID] = true
		}
		for id := range d.messages {
			if !reachable[id] {
				delete(d.messages, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

type userMessageRepo struct{ s *Store }

func (r userMessageRepo) CreateBatch(ctx context.Context, messageID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	return r.s.write(ctx, func(d *data) error {
		exists := make(map[int64]bool)
		for _, um := range d.userMessages {
			if um.MessageID == messageID {
				exists[um.UserID] = true
			}
		}
		for _, uid := range userIDs {
			if exists[uid] {
				return conflict("insert user messages")
			}
			exists[uid] = true
		}
		// All checks passed; the batch is applied whole.
		for _, uid := range userIDs {
			id := d.id()
			d.userMessages[id] = models.UserMessage{ID: id, UserID: uid, MessageID: messageID}
		}
		return nil
	})
}

func (r userMessageRepo) ListUserIDs(_ context.Context, messageID int64) ([]int64, error) {
	ids := make([]int64, 0)
	r.s.read(func(d *data) {
		for _, um := range d.userMessages {
			if um.MessageID == messageID {
				ids = append(ids, um.UserID)
			}
		}
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type defaultStreamRepo struct{ s *Store }

func (r defaultStreamRepo) Replace(ctx context.Context, realmID int64, streamIDs []int64) error {
	return r.s.write(ctx, func(d *data) error {
		for id, ds := range d.defaults {
			if ds.RealmID == realmID {
				delete(d.defaults, id)
			}
		}
		seen := make(map[int64]bool, len(streamIDs))
		for _, sid := range streamIDs {
			if seen[sid] {
				continue
			}
			seen[sid] = true
			id := d.id()
			d.defaults[id] = models.DefaultStream{ID: id, RealmID: realmID, StreamID: sid}
		}
		return nil
	})
}

func (r defaultStreamRepo) ListStreams(_ context.Context, realmID int64) ([]models.Stream, error) {
	streams := make([]models.Stream, 0)
	r.s.read(func(d *data) {
		for _, ds := range d.defaults {
			if ds.RealmID != realmID {
				continue
			}
			if st, ok := d.streams[ds.StreamID]; ok {
				streams = append(streams, st)
			}
		}
	})
	sort.Slice(streams, func(i, j int) bool { return streams[i].Name < streams[j].Name })
	return streams, nil
}
