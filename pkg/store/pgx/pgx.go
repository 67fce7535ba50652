// Package pgx stores segment embeddings in Postgres using pgvector.
package pgx

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/internal/util"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/common"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const (
	DefaultCollection = "default"
	insertBatchSize   = 500
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// batchSender is the part of a pool or transaction that insertSegments uses.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
}

// Connect opens a pool with the pgvector types registered on every
// connection and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// SegmentDBStore implements store.VectorStore on a segments table. Rows are
// partitioned by collection so several indexes can share one database.
type SegmentDBStore struct {
	conn       pgxIConn
	locks      *leaselock.Locks
	collection string
	lockTTL    time.Duration
	count      atomic.Int64
}

type SegmentDBStoreOption func(*SegmentDBStore)

func WithCollection(name string) SegmentDBStoreOption {
	return func(s *SegmentDBStore) {
		s.collection = name
	}
}

// WithLeaseLock serializes Replace across replicas through the app_locks
// table.
func WithLeaseLock(locks *leaselock.Locks, ttl time.Duration) SegmentDBStoreOption {
	return func(s *SegmentDBStore) {
		s.locks = locks
		s.lockTTL = ttl
	}
}

func NewSegmentDBStore(conn pgxIConn, opts ...SegmentDBStoreOption) *SegmentDBStore {
	s := &SegmentDBStore{
		conn:       conn,
		collection: DefaultCollection,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func (s *SegmentDBStore) lockKey() string {
	return "segment-index:" + s.collection
}

func (s *SegmentDBStore) Reset(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, deleteCollectionSQL, s.collection); err != nil {
		return fmt.Errorf("clearing collection %s: %w", s.collection, err)
	}
	s.count.Store(0)
	return nil
}

func (s *SegmentDBStore) Insert(ctx context.Context, segments []common.Segment, vectors [][]float32) error {
	if _, err := store.CheckVectors(len(segments), vectors); err != nil {
		return err
	}
	if err := s.insertSegments(ctx, s.conn, segments, vectors, s.count.Load()); err != nil {
		return err
	}
	s.count.Add(int64(len(segments)))
	return nil
}

// Replace deletes the collection and inserts segments in one transaction, so
// other sessions keep searching the previous rows until the commit. With a
// lease client the transaction also runs under the collection's lease and
// only commits while the lease is held.
func (s *SegmentDBStore) Replace(ctx context.Context, segments []common.Segment, vectors [][]float32) error {
	if _, err := store.CheckVectors(len(segments), vectors); err != nil {
		return err
	}

	write := func(ctx context.Context, tx pgxv5.Tx) error {
		return s.replaceTx(ctx, tx, segments, vectors)
	}

	var err error
	if s.locks != nil {
		logger.Debug("[Store] Replacing collection under lease", "key", s.lockKey(), "segments", len(segments))
		err = s.locks.RunTx(ctx, s.lockKey(), leaselock.Options{
			TTL:        s.lockTTL,
			PollJitter: 250 * time.Millisecond,
		}, write)
	} else {
		err = pgxv5.BeginFunc(ctx, s.conn, func(tx pgxv5.Tx) error {
			return write(ctx, tx)
		})
	}
	if err != nil {
		return fmt.Errorf("replacing collection %s: %w", s.collection, err)
	}

	s.count.Store(int64(len(segments)))
	return nil
}

func (s *SegmentDBStore) replaceTx(ctx context.Context, tx pgxv5.Tx, segments []common.Segment, vectors [][]float32) error {
	if _, err := tx.Exec(ctx, deleteCollectionSQL, s.collection); err != nil {
		return err
	}
	return s.insertSegments(ctx, tx, segments, vectors, 0)
}

func (s *SegmentDBStore) insertSegments(ctx context.Context, conn batchSender, segments []common.Segment, vectors [][]float32, offset int64) error {
	return store.ChunkRange(len(segments), insertBatchSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for i := start; i < end; i++ {
			seg := segments[i]
			batch.Queue(upsertSegmentSQL,
				s.collection,
				seg.ID,
				offset+int64(i),
				seg.Source,
				util.SanitizeText(seg.Title),
				seg.Authors,
				seg.Position,
				util.SanitizeText(seg.Text),
				pgvector.NewVector(vectors[i]),
			)
		}
		br := conn.SendBatch(ctx, batch)
		for i := start; i < end; i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("inserting segment %s: %w", segments[i].ID, err)
			}
		}
		return br.Close()
	})
}

func (s *SegmentDBStore) Search(ctx context.Context, query []float32, k int) ([]common.ScoredSegment, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, searchSQL, s.collection, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("searching segments: %w", err)
	}
	defer rows.Close()

	var hits []common.ScoredSegment
	for rows.Next() {
		var (
			hit   common.ScoredSegment
			score float64
		)
		if err := rows.Scan(
			&hit.ID,
			&hit.Source,
			&hit.Title,
			&hit.Authors,
			&hit.Position,
			&hit.Text,
			&score,
		); err != nil {
			return nil, err
		}
		hit.Score = float32(score)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

// Len reports the number of segments inserted by this process since the
// last Reset.
func (s *SegmentDBStore) Len() int {
	return int(s.count.Load())
}

// Count asks the database for the collection size.
func (s *SegmentDBStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.conn.QueryRow(ctx, countSQL, s.collection).Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}

var (
	_ store.VectorStore = (*SegmentDBStore)(nil)
	_ store.Replacer    = (*SegmentDBStore)(nil)
)

const deleteCollectionSQL = `DELETE FROM segments WHERE collection = $1`

const upsertSegmentSQL = `
INSERT INTO segments (collection, id, ord, source, title, authors, position, content, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (collection, id) DO UPDATE
SET ord       = EXCLUDED.ord,
    source    = EXCLUDED.source,
    title     = EXCLUDED.title,
    authors   = EXCLUDED.authors,
    position  = EXCLUDED.position,
    content   = EXCLUDED.content,
    embedding = EXCLUDED.embedding
`

const searchSQL = `
SELECT id, source, title, authors, position, content, 1 - (embedding <=> $2) AS score
FROM segments
WHERE collection = $1
ORDER BY embedding <=> $2, ord
LIMIT $3
`

const countSQL = `SELECT count(*) FROM segments WHERE collection = $1`
