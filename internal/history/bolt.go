package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

var (
	readingsBucket = []byte("readings")
	byUserBucket   = []byte("by_user")
	byCityBucket   = []byte("by_city")
)

// BoltStore keeps records in a time-ordered bucket with per-user and per-city index
// buckets of primary keys. The caller owns db and closes it after Close.
type BoltStore struct {
	db     *bolt.DB
	closed atomic.Bool
}

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{readingsBucket, byUserBucket, byCityBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// recordKey sorts by capture time, then by save order. The sign bit is flipped so
// pre-epoch timestamps still sort first.
func recordKey(nanos int64, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(nanos)^(1<<63))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

func (s *BoltStore) Save(ctx context.Context, reading models.WeatherReading) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := Record{ID: uuid.NewString(), WeatherReading: reading}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		readings := tx.Bucket(readingsBucket)
		seq, err := readings.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		key := recordKey(reading.Timestamp.UnixNano(), seq)
		if err := readings.Put(key, value); err != nil {
			return fmt.Errorf("put record: %w", err)
		}
		if reading.UserID != "" {
			if err := putIndex(tx.Bucket(byUserBucket), reading.UserID, key); err != nil {
				return err
			}
		}
		if city := cityKey(reading.CityName); city != "" {
			if err := putIndex(tx.Bucket(byCityBucket), city, key); err != nil {
				return err
			}
		}
		return nil
	})
}

func putIndex(parent *bolt.Bucket, name string, key []byte) error {
	idx, err := parent.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return idx.Put(key, nil)
}

func (s *BoltStore) FindByUser(ctx context.Context, userID string) ([]Record, error) {
	if userID == "" {
		return nil, ErrInvalidID
	}
	return s.find(ctx, byUserBucket, userID)
}

func (s *BoltStore) FindByCity(ctx context.Context, city string) ([]Record, error) {
	key := cityKey(city)
	if key == "" {
		return nil, ErrInvalidID
	}
	return s.find(ctx, byCityBucket, key)
}

func (s *BoltStore) find(ctx context.Context, index []byte, name string) ([]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []Record{}
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(index).Bucket([]byte(name))
		if idx == nil {
			return nil
		}
		readings := tx.Bucket(readingsBucket)
		c := idx.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			value := readings.Get(k)
			if value == nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(value, &rec); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(readingsBucket) == nil {
			return fmt.Errorf("bucket %s missing", readingsBucket)
		}
		return nil
	})
}

// Close rejects further operations. The underlying db stays open.
func (s *BoltStore) Close() error {
	s.closed.Store(true)
	return nil
}
