package guard

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"semaphore/bursar/internal/auth"
)

// RedisDenyList stores short-lived revocations. Entries expire once every
// token they could match has expired on its own.
type RedisDenyList struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisDenyList(client *redis.Client, prefix string) *RedisDenyList {
	if prefix == "" {
		prefix = "bursar"
	}
	return &RedisDenyList{client: client, prefix: prefix, now: time.Now}
}

// Revoke denies one token, keyed by subject and issued-at.
func (d *RedisDenyList) Revoke(ctx context.Context, identity auth.Identity) error {
	ttl := identity.IssuedAt.Add(auth.TokenTTL).Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, d.tokenKey(identity.Subject, identity.IssuedAt), "1", ttl).Err()
}

// RevokeSubject denies every token of subject issued before before. Tokens
// carry whole-second issue times, so one minted in the same second as the
// revocation stays valid.
func (d *RedisDenyList) RevokeSubject(ctx context.Context, subject uuid.UUID, before time.Time) error {
	value := strconv.FormatInt(before.UTC().Unix(), 10)
	return d.client.Set(ctx, d.subjectKey(subject), value, auth.TokenTTL).Err()
}

func (d *RedisDenyList) IsDenied(ctx context.Context, identity auth.Identity) (bool, error) {
	values, err := d.client.MGet(ctx, d.tokenKey(identity.Subject, identity.IssuedAt), d.subjectKey(identity.Subject)).Result()
	if err != nil {
		return false, err
	}
	if len(values) > 0 && values[0] != nil {
		return true, nil
	}
	if len(values) > 1 && values[1] != nil {
		raw, _ := values[1].(string)
		before, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return true, nil
		}
		return identity.IssuedAt.Unix() < before, nil
	}
	return false, nil
}

func (d *RedisDenyList) tokenKey(subject uuid.UUID, issuedAt time.Time) string {
	return d.prefix + ":revoked:" + subject.String() + ":" + strconv.FormatInt(issuedAt.Unix(), 10)
}

func (d *RedisDenyList) subjectKey(subject uuid.UUID) string {
	return d.prefix + ":revoked-before:" + subject.String()
}
