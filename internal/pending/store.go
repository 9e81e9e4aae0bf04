// Package pending persists the PendingAuthState record: the durable marker
// that an authentication is in progress and must not be treated as complete.
//
// One record exists per client context. Absence of the record is identical to
// "no challenge outstanding". Records are written synchronously before any
// result leaves the gate, so a reload immediately after a challenge is issued
// observes the record.
package pending

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const recordVersion1 = 1

var (
	// ErrNotFound means no pending record exists for the client context.
	ErrNotFound = errors.New("pending state not found")
	// ErrExpired means the record outlived its challenge TTL and was removed.
	ErrExpired = errors.New("pending state expired")
	// ErrBackend wraps Redis transport failures.
	ErrBackend = errors.New("pending state backend unavailable")
)

// Record is the durable PendingAuthState. Existence of the record implies
// active=true; SessionToken is the provisional primary-credential session
// that must be revoked if the flow is abandoned.
type Record struct {
	ChallengeID  string
	FactorID     string
	UserID       string
	SessionToken string
	ExpiresAt    int64
	Attempts     uint16
}

// Store keeps pending records in Redis, keyed per client context.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func New(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "sgp"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(clientID string) string {
	return s.prefix + ":" + clientID
}

// Save writes the record with the given TTL. The write completes before Save
// returns; callers rely on that ordering for reload safety.
func (s *Store) Save(ctx context.Context, clientID string, record *Record, ttl time.Duration) error {
	encoded, err := encodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(clientID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Get returns the pending record for the client context. Expired records are
// removed and reported as ErrExpired.
func (s *Store) Get(ctx context.Context, clientID string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(clientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	record, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(clientID)).Result()
		return nil, ErrExpired
	}
	return record, nil
}

// Clear removes the record. The bool reports whether a record was actually
// deleted; false signals that a concurrent submission consumed it first.
func (s *Store) Clear(ctx context.Context, clientID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(clientID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

// RecordFailure counts one wrong-code submission against the pending record.
// It returns true when the attempt bound is reached, in which case the record
// is consumed atomically. Below the bound the record keeps its challenge and
// its remaining TTL untouched apart from the counter.
func (s *Store) RecordFailure(ctx context.Context, clientID string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(clientID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeRecord(data)
			if err != nil {
				return err
			}
			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrNotFound
			}
			if errors.Is(err, ErrExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrNotFound
}

func encodeRecord(record *Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{record.ChallengeID, record.FactorID, record.UserID, record.SessionToken} {
		if len(field) > 65535 {
			return nil, errors.New("pending record field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersion1 {
		return nil, errors.New("invalid pending record version")
	}

	record := &Record{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []*string{&record.ChallengeID, &record.FactorID, &record.UserID, &record.SessionToken} {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*field = string(raw)
	}

	return record, nil
}
