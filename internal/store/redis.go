package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"licenselock/internal/license"
)

// Hash fields of a record.
const (
	fieldState       = "state"
	fieldDevice      = "device_id"
	fieldSuspended   = "suspended"
	fieldOrigin      = "origin"
	fieldCreatedAt   = "created_at"
	fieldActivatedAt = "activated_at"
	fieldSuspendedAt = "suspended_at"
)

const listPageSize = 100

var (
	// KEYS[1] record, KEYS[2] index; ARGV[1] identifier, ARGV[2..] field/value pairs
	insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call("ZADD", KEYS[2], 0, ARGV[1])
return 1
`)

	// ARGV[1] expected state, ARGV[2] next state, ARGV[3] device, ARGV[4] time
	casScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "state") ~= ARGV[1] then
  return 0
end
if ARGV[2] == "locked" then
  redis.call("HSET", KEYS[1], "state", "locked", "device_id", ARGV[3], "activated_at", ARGV[4])
else
  redis.call("HSET", KEYS[1], "state", "unredeemed")
  redis.call("HDEL", KEYS[1], "device_id", "activated_at")
end
return 1
`)

	// ARGV[1] time
	suspendScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "suspended") ~= "1" then
  redis.call("HSET", KEYS[1], "suspended", "1", "suspended_at", ARGV[1])
end
return 1
`)

	// ARGV[1] "1" to lift the suspension
	resetScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
redis.call("HSET", KEYS[1], "state", "unredeemed")
redis.call("HDEL", KEYS[1], "device_id", "activated_at")
if ARGV[1] == "1" then
  redis.call("HSET", KEYS[1], "suspended", "0")
  redis.call("HDEL", KEYS[1], "suspended_at")
end
return 1
`)
)

// ConnectRedis initializes a Redis client from URL or host:port input.
func ConnectRedis(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisStore keeps each record in a hash and indexes identifiers in a sorted
// set. Mutations run as Lua scripts so they are atomic on the server.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store whose keys start with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) recordKey(identifier string) string {
	return s.prefix + "record:" + identifier
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

func (s *RedisStore) Get(ctx context.Context, identifier string) (license.Record, error) {
	data, err := s.client.HGetAll(ctx, s.recordKey(identifier)).Result()
	if err != nil {
		return license.Record{}, err
	}
	if len(data) == 0 {
		return license.Record{}, license.ErrNotFound
	}
	return decodeHash(identifier, data), nil
}

func (s *RedisStore) InsertIfAbsent(ctx context.Context, rec license.Record) (license.Record, error) {
	if err := rec.Validate(); err != nil {
		return license.Record{}, err
	}

	args := append([]any{rec.Identifier}, encodeHash(rec)...)
	inserted, err := insertScript.Run(ctx, s.client, []string{s.recordKey(rec.Identifier), s.indexKey()}, args...).Int()
	if err != nil {
		return license.Record{}, err
	}
	if inserted == 0 {
		return license.Record{}, license.ErrAlreadyExists
	}
	return rec, nil
}

func (s *RedisStore) CompareAndSetActivation(ctx context.Context, identifier string, expected, next license.ActivationState, deviceID string, at time.Time) (license.Record, error) {
	switch next {
	case license.StateLocked:
		if deviceID == "" {
			return license.Record{}, errEmptyDevice
		}
	case license.StateUnredeemed:
	default:
		return license.Record{}, errUnknownState(next)
	}

	outcome, err := casScript.Run(ctx, s.client, []string{s.recordKey(identifier)},
		string(expected), string(next), deviceID, formatTime(at)).Int()
	if err != nil {
		return license.Record{}, err
	}
	switch outcome {
	case -1:
		return license.Record{}, license.ErrNotFound
	case 0:
		return license.Record{}, license.ErrConflict
	}
	return s.Get(ctx, identifier)
}

func (s *RedisStore) SetSuspended(ctx context.Context, identifier string, at time.Time) (license.Record, error) {
	return s.runExisting(ctx, suspendScript, identifier, formatTime(at))
}

func (s *RedisStore) Reset(ctx context.Context, identifier string, clearSuspension bool) (license.Record, error) {
	flag := "0"
	if clearSuspension {
		flag = "1"
	}
	return s.runExisting(ctx, resetScript, identifier, flag)
}

func (s *RedisStore) runExisting(ctx context.Context, script *redis.Script, identifier string, args ...any) (license.Record, error) {
	outcome, err := script.Run(ctx, s.client, []string{s.recordKey(identifier)}, args...).Int()
	if err != nil {
		return license.Record{}, err
	}
	if outcome == -1 {
		return license.Record{}, license.ErrNotFound
	}
	return s.Get(ctx, identifier)
}

// ListAll pages through the identifier index. Records deleted between the
// index read and the hash read are skipped.
func (s *RedisStore) ListAll(ctx context.Context) iter.Seq2[license.Record, error] {
	return func(yield func(license.Record, error) bool) {
		for start := int64(0); ; start += listPageSize {
			ids, err := s.client.ZRange(ctx, s.indexKey(), start, start+listPageSize-1).Result()
			if err != nil {
				yield(license.Record{}, err)
				return
			}
			for _, id := range ids {
				rec, err := s.Get(ctx, id)
				if errors.Is(err, license.ErrNotFound) {
					continue
				}
				if !yield(rec, err) || err != nil {
					return
				}
			}
			if len(ids) < listPageSize {
				return
			}
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeHash(rec license.Record) []any {
	suspended := "0"
	if rec.Suspended {
		suspended = "1"
	}
	fields := []any{
		fieldState, string(rec.State),
		fieldSuspended, suspended,
		fieldOrigin, string(rec.Origin),
		fieldCreatedAt, formatTime(rec.CreatedAt),
	}
	if rec.BoundDeviceID != "" {
		fields = append(fields, fieldDevice, rec.BoundDeviceID)
	}
	if rec.ActivatedAt != nil {
		fields = append(fields, fieldActivatedAt, formatTime(*rec.ActivatedAt))
	}
	if rec.SuspendedAt != nil {
		fields = append(fields, fieldSuspendedAt, formatTime(*rec.SuspendedAt))
	}
	return fields
}

func decodeHash(identifier string, data map[string]string) license.Record {
	rec := license.Record{
		Identifier:    identifier,
		State:         license.ActivationState(data[fieldState]),
		BoundDeviceID: data[fieldDevice],
		Suspended:     data[fieldSuspended] == "1",
		Origin:        license.Origin(data[fieldOrigin]),
		ActivatedAt:   parseTime(data[fieldActivatedAt]),
		SuspendedAt:   parseTime(data[fieldSuspendedAt]),
	}
	if created := parseTime(data[fieldCreatedAt]); created != nil {
		rec.CreatedAt = *created
	}
	return rec
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &t
}
