// Package blob 把大文件切分为固定大小的分块存入 Redis，超过阈值时先做 zlib 压缩。
// 分块先写、元数据最后写：元数据存在即表示文件完整。
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/redis/go-redis/v9"

	"github.com/kochabx/vidchat/core/keyspace"
	"github.com/kochabx/vidchat/core/resilience"
	"github.com/kochabx/vidchat/core/tag"
	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/metrics"
)

// Store 分块文件存储
type Store struct {
	rdb     redis.UniversalClient
	runner  *resilience.Runner
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Store)

func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New 创建分块存储
func New(rdb redis.UniversalClient, runner *resilience.Runner, cfg Config, opts ...Option) (*Store, error) {
	if rdb == nil || runner == nil {
		return nil, errors.Internal("blob: redis client and runner are required")
	}
	if err := tag.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	s := &Store{rdb: rdb, runner: runner, cfg: cfg, logger: log.G, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("blob")
	return s, nil
}

func (s *Store) Config() Config {
	return s.cfg
}

// Store 写入文件。超过 MaxFileSize 时返回 false 与 ErrInvalidInput。
// 旧版本的元数据先被删除，读者在新元数据写入前看到的是“不存在”。
func (s *Store) Store(ctx context.Context, fileID string, data []byte) (bool, error) {
	if fileID == "" {
		return false, errors.ErrInvalidInput.WithReason("empty_file_id")
	}
	size := int64(len(data))
	if size > s.cfg.MaxFileSize {
		s.logger.Warn().Str("file_id", fileID).Int64("size", size).Int64("max", s.cfg.MaxFileSize).Msg("file exceeds maximum size")
		return false, errors.ErrInvalidInput.WithReason("file_too_large").WithMetadata(map[string]string{
			"size": fmt.Sprint(size),
			"max":  fmt.Sprint(s.cfg.MaxFileSize),
		})
	}

	meta := Metadata{Size: size, Timestamp: s.now()}
	payload := data
	if size > s.cfg.CompressionThreshold {
		compressed, err := compress(data)
		if err != nil {
			return false, fmt.Errorf("compress %s: %w", fileID, err)
		}
		s.logger.Debug().Str("file_id", fileID).Int64("size", size).Int("compressed", len(compressed)).Msg("payload compressed")
		payload, meta.Compressed = compressed, true
	}
	meta.Chunks = (len(payload) + s.cfg.ChunkSize - 1) / s.cfg.ChunkSize

	prev, err := s.Stat(ctx, fileID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) && !errors.Is(err, errors.ErrCorrupt) {
		return false, err
	}
	metaKey := keyspace.BlobMetaKey(fileID)
	if err := s.runner.Exec(ctx, "blob.unpublish", func(ctx context.Context) error {
		return s.rdb.Del(ctx, metaKey).Err()
	}); err != nil {
		return false, err
	}

	for start := 0; start < meta.Chunks; start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, meta.Chunks)
		err := s.runner.Exec(ctx, "blob.write_chunks", func(ctx context.Context) error {
			_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
				for i := start; i < end; i++ {
					lo := i * s.cfg.ChunkSize
					hi := min(lo+s.cfg.ChunkSize, len(payload))
					p.Set(ctx, keyspace.BlobChunkKey(fileID, i), payload[lo:hi], s.cfg.TTL)
				}
				return nil
			})
			return err
		})
		if err != nil {
			return false, err
		}
	}

	err = s.runner.Exec(ctx, "blob.publish", func(ctx context.Context) error {
		_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, metaKey, meta.fields())
			p.Expire(ctx, metaKey, s.cfg.TTL)
			return nil
		})
		return err
	})
	if err != nil {
		return false, err
	}

	// 旧版本多出的分块
	if prev != nil && prev.Chunks > meta.Chunks {
		if err := s.deleteChunks(ctx, fileID, meta.Chunks, prev.Chunks); err != nil {
			s.logger.Warn().Err(err).Str("file_id", fileID).Msg("failed to delete stale chunks")
		}
	}

	s.metrics.Blob("store", len(data))
	s.logger.Info().Str("file_id", fileID).Int64("size", size).Int("chunks", meta.Chunks).Bool("compressed", meta.Compressed).Msg("file stored")
	return true, nil
}

// Stat 读取元数据，不存在时返回 ErrNotFound
func (s *Store) Stat(ctx context.Context, fileID string) (*Metadata, error) {
	h, err := resilience.Do(ctx, s.runner, "blob.stat", func(ctx context.Context) (map[string]string, error) {
		return s.rdb.HGetAll(ctx, keyspace.BlobMetaKey(fileID)).Result()
	})
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, errors.ErrNotFound.WithReason("file")
	}
	return parseMetadata(h)
}

// Retrieve 按序读取全部分块并还原文件。任一分块缺失返回 ErrMissingChunk，
// 解压失败或长度与元数据不符返回 ErrCorrupt，从不返回部分数据。
func (s *Store) Retrieve(ctx context.Context, fileID string) ([]byte, error) {
	meta, err := s.Stat(ctx, fileID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for start := 0; start < meta.Chunks; start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, meta.Chunks)
		keys := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			keys = append(keys, keyspace.BlobChunkKey(fileID, i))
		}
		vals, err := resilience.Do(ctx, s.runner, "blob.read_chunks", func(ctx context.Context) ([]any, error) {
			return s.rdb.MGet(ctx, keys...).Result()
		})
		if err != nil {
			return nil, err
		}
		for j, v := range vals {
			chunk, ok := v.(string)
			if !ok {
				s.logger.Error().Str("file_id", fileID).Int("chunk", start+j).Msg("missing chunk")
				return nil, errors.ErrMissingChunk.WithMetadata(map[string]string{
					"file_id": fileID,
					"chunk":   fmt.Sprint(start + j),
				})
			}
			buf.WriteString(chunk)
		}
	}

	data := buf.Bytes()
	if meta.Compressed {
		if data, err = decompress(data, meta.Size); err != nil {
			return nil, errors.ErrCorrupt.WithReason("decompress").WithCause(err)
		}
	}
	if int64(len(data)) != meta.Size {
		return nil, errors.ErrCorrupt.WithReason("size_mismatch").WithMetadata(map[string]string{
			"expected": fmt.Sprint(meta.Size),
			"actual":   fmt.Sprint(len(data)),
		})
	}
	if data == nil {
		data = []byte{}
	}
	s.metrics.Blob("retrieve", len(data))
	return data, nil
}

// Delete 先删分块再删元数据；元数据不存在时返回 false
func (s *Store) Delete(ctx context.Context, fileID string) (bool, error) {
	meta, err := s.Stat(ctx, fileID)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return false, nil
	case errors.Is(err, errors.ErrCorrupt):
		// 分块数未知，交给孤儿分块清理
		s.logger.Warn().Err(err).Str("file_id", fileID).Msg("deleting file with corrupt metadata")
		meta = &Metadata{}
	case err != nil:
		return false, err
	}

	if err := s.deleteChunks(ctx, fileID, 0, meta.Chunks); err != nil {
		return false, err
	}
	err = s.runner.Exec(ctx, "blob.delete_meta", func(ctx context.Context) error {
		return s.rdb.Del(ctx, keyspace.BlobMetaKey(fileID)).Err()
	})
	if err != nil {
		return false, err
	}
	s.metrics.Blob("delete", int(meta.Size))
	return true, nil
}

func (s *Store) deleteChunks(ctx context.Context, fileID string, from, to int) error {
	for start := from; start < to; start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, to)
		keys := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			keys = append(keys, keyspace.BlobChunkKey(fileID, i))
		}
		if err := s.runner.Exec(ctx, "blob.delete_chunks", func(ctx context.Context) error {
			return s.rdb.Del(ctx, keys...).Err()
		}); err != nil {
			return err
		}
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompress 最多读取 size+1 字节，防止超出元数据声明的解压结果
func decompress(data []byte, size int64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, size+1))
}
