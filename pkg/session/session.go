package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"

	"digitalstore/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("session", fx.Provide(NewStore))

// Identity is the server-side session payload. The capability token never
// substitutes for it; both the issue and redeem endpoints resolve the
// caller through here.
type Identity struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
}

func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Store struct {
	rdb *redis.Client
	cfg *config.Config
}

func NewStore(rdb *redis.Client, cfg *config.Config) *Store {
	return &Store{rdb: rdb, cfg: cfg}
}

func key(sid string) string {
	return "session:" + sid
}

// Create stores the identity and returns the opaque session id.
func (s *Store) Create(ctx context.Context, identity Identity) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	sid := hex.EncodeToString(b)

	payload, err := json.Marshal(identity)
	if err != nil {
		return "", err
	}

	if err := s.rdb.Set(ctx, key(sid), payload, s.cfg.Session.TTL).Err(); err != nil {
		return "", err
	}

	return sid, nil
}

// Get resolves a session id; (nil, nil) when the session is missing or
// expired.
func (s *Store) Get(ctx context.Context, sid string) (*Identity, error) {
	payload, err := s.rdb.Get(ctx, key(sid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var identity Identity
	if err := json.Unmarshal(payload, &identity); err != nil {
		return nil, err
	}

	return &identity, nil
}

func (s *Store) Delete(ctx context.Context, sid string) error {
	return s.rdb.Del(ctx, key(sid)).Err()
}
