package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

// Bucket layout:
//
//	boards/<board>/log  seq (uint64 big-endian) -> boltRow JSON
//	boards/<board>/ids  op id -> seq
var (
	bucketBoards = []byte("boards")
	bucketLog    = []byte("log")
	bucketIDs    = []byte("ids")
)

// boltOpenTimeout bounds waiting for another process's file lock.
const boltOpenTimeout = 5 * time.Second

type boltRow struct {
	Op         json.RawMessage `json:"op"`
	Hash       string          `json:"hash"`
	ReceivedAt int64           `json:"receivedAt"`
}

// BoltStore is the bbolt op log.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

var _ Log = (*BoltStore)(nil)

// OpenBolt creates or opens a bbolt database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBoards)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// AppendOp stores op unless its id is already logged for the board.
func (s *BoltStore) AppendOp(_ context.Context, boardID string, op board.Op) (bool, error) {
	var added bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		logB, ids, err := boardBuckets(tx, boardID)
		if err != nil {
			return err
		}
		added, err = s.put(logB, ids, op)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("append op: %w", err)
	}
	return added, nil
}

// AppendBatch stores b's marker and ops in one transaction.
func (s *BoltStore) AppendBatch(_ context.Context, boardID string, b board.Batch) (int, error) {
	rows, err := batchRows(b)
	if err != nil {
		return 0, err
	}
	written := 0
	err = s.db.Update(func(tx *bolt.Tx) error {
		logB, ids, err := boardBuckets(tx, boardID)
		if err != nil {
			return err
		}
		if ids.Get([]byte(rows[0].OpID)) != nil {
			return nil
		}
		for _, op := range rows {
			added, err := s.put(logB, ids, op)
			if err != nil {
				return err
			}
			if added {
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append batch %s: %w", b.ID, err)
	}
	return written, nil
}

func (s *BoltStore) put(logB, ids *bolt.Bucket, op board.Op) (bool, error) {
	if ids.Get([]byte(op.OpID)) != nil {
		return false, nil
	}
	body, hash, err := encodeOp(op)
	if err != nil {
		return false, err
	}
	row, err := json.Marshal(boltRow{Op: json.RawMessage(body), Hash: hash, ReceivedAt: s.now().UnixMilli()})
	if err != nil {
		return false, err
	}
	seq, err := logB.NextSequence()
	if err != nil {
		return false, err
	}
	key := seqKey(seq)
	if err := logB.Put(key, row); err != nil {
		return false, err
	}
	return true, ids.Put([]byte(op.OpID), key)
}

func boardBuckets(tx *bolt.Tx, boardID string) (*bolt.Bucket, *bolt.Bucket, error) {
	if boardID == "" {
		return nil, nil, fmt.Errorf("board id is required")
	}
	bb, err := tx.Bucket(bucketBoards).CreateBucketIfNotExists([]byte(boardID))
	if err != nil {
		return nil, nil, err
	}
	logB, err := bb.CreateBucketIfNotExists(bucketLog)
	if err != nil {
		return nil, nil, err
	}
	ids, err := bb.CreateBucketIfNotExists(bucketIDs)
	if err != nil {
		return nil, nil, err
	}
	return logB, ids, nil
}

// History returns the board's ops after afterSeq in log order.
func (s *BoltStore) History(_ context.Context, boardID string, afterSeq int64) ([]Record, error) {
	records := []Record{}
	err := s.db.View(func(tx *bolt.Tx) error {
		bb := tx.Bucket(bucketBoards).Bucket([]byte(boardID))
		if bb == nil {
			return nil
		}
		c := bb.Bucket(bucketLog).Cursor()
		start := seqKey(uint64(max(afterSeq, 0)) + 1)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			var row boltRow
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("decode row: %w", err)
			}
			op, err := decodeOp(row.Op)
			if err != nil {
				return err
			}
			records = append(records, Record{
				Seq:        int64(binary.BigEndian.Uint64(k)),
				Op:         op,
				Hash:       row.Hash,
				ReceivedAt: time.UnixMilli(row.ReceivedAt),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return records, nil
}

// Boards lists boards ordered by id. bbolt iterates keys in byte order.
func (s *BoltStore) Boards(_ context.Context) ([]BoardInfo, error) {
	boards := []BoardInfo{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBoards).ForEachBucket(func(name []byte) error {
			logB := tx.Bucket(bucketBoards).Bucket(name).Bucket(bucketLog)
			if logB == nil {
				return nil
			}
			info := BoardInfo{ID: string(bytes.Clone(name))}
			c := logB.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				info.Ops++
			}
			if k, _ := c.Last(); k != nil {
				info.LastSeq = int64(binary.BigEndian.Uint64(k))
			}
			if info.Ops > 0 {
				boards = append(boards, info)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return boards, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
