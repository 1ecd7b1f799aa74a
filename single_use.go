package authkit

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// singleUseStore backs both second-factor challenges and out-of-band
// proofs: a record addressed by an unguessable reference, holding only
// the SHA-256 of its secret, consumable exactly once.
//
// Consume runs under WATCH so concurrent redemptions of the same record
// race through optimistic CAS and exactly one wins.

const singleUseRecordVersion = 2

var (
	errOneTimeNotFound    = errors.New("one-time record not found")
	errOneTimeExpired     = errors.New("one-time record expired")
	errOneTimeMismatch    = errors.New("one-time secret mismatch")
	errOneTimeAttempts    = errors.New("one-time attempts exceeded")
	errOneTimeUnavailable = errors.New("one-time store unavailable")
)

type singleUseRecord struct {
	SubjectID  string
	SecretHash [32]byte
	ExpiresAt  int64 // unix milliseconds
	Attempts   uint16
}

type singleUseStore struct {
	redis       *redis.Client
	prefix      string
	maxAttempts int
}

func newSingleUseStore(client *redis.Client, prefix string, maxAttempts int) *singleUseStore {
	return &singleUseStore{redis: client, prefix: prefix, maxAttempts: maxAttempts}
}

func (s *singleUseStore) key(tenantID, ref string) string {
	if tenantID == "" {
		tenantID = "0"
	}
	return s.prefix + ":" + tenantID + ":" + ref
}

func (s *singleUseStore) Save(ctx context.Context, tenantID, ref string, record *singleUseRecord, ttl time.Duration) error {
	encoded, err := encodeSingleUseRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(tenantID, ref), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errOneTimeUnavailable, err)
	}

	return nil
}

// Consume atomically checks the provided secret hash against the record
// and deletes it on match. A wrong secret burns an attempt; exhausting
// the attempt budget deletes the record. Exactly one concurrent caller
// can succeed.
func (s *singleUseStore) Consume(ctx context.Context, tenantID, ref string, providedHash [32]byte) (*singleUseRecord, error) {
	const maxRetries = 4
	key := s.key(tenantID, ref)

	for i := 0; i < maxRetries; i++ {
		var matched *singleUseRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeSingleUseRecord(data)
			if err != nil {
				return err
			}

			if time.Now().UnixMilli() > record.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return errOneTimeExpired
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= s.maxAttempts {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return errOneTimeAttempts
				}

				ttl := time.Until(time.UnixMilli(record.ExpiresAt))
				if ttl <= 0 {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return errOneTimeExpired
				}

				updated, err := encodeSingleUseRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errOneTimeMismatch
			}

			if err := txDelete(ctx, tx, key); err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errOneTimeNotFound
			case errors.Is(err, errOneTimeExpired),
				errors.Is(err, errOneTimeMismatch),
				errors.Is(err, errOneTimeAttempts):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errOneTimeUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errOneTimeNotFound
}

func txDelete(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeSingleUseRecord(record *singleUseRecord) ([]byte, error) {
	if len(record.SubjectID) > 65535 {
		return nil, errors.New("one-time record subject too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(singleUseRecordVersion)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.SubjectID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.SubjectID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeSingleUseRecord(data []byte) (*singleUseRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != singleUseRecordVersion {
		return nil, errors.New("invalid one-time record version")
	}

	record := &singleUseRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var subjectLen uint16
	if err := binary.Read(reader, binary.BigEndian, &subjectLen); err != nil {
		return nil, err
	}
	subject := make([]byte, subjectLen)
	if _, err := io.ReadFull(reader, subject); err != nil {
		return nil, err
	}
	record.SubjectID = string(subject)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
