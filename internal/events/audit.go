package events

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// auditRecord is the on-disk envelope for a durable audit entry: the raw
// topic alongside the event, so a replay tool can filter without decoding
// every payload type.
type auditRecord struct {
	Topic string        `msgpack:"topic"`
	Event EventWithData `msgpack:"event"`
}

// FileAuditSink appends every published event to a local msgpack log,
// one length-prefixed record per line-equivalent write. msgpack is used
// instead of JSON for the durable trail because it's a compact,
// self-describing binary codec, and an append-only audit trail is exactly
// the write-once/read-rarely shape that favors a smaller, faster encoding
// over JSON's readability.
type FileAuditSink struct {
	log zerolog.Logger

	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	enc *msgpack.Encoder
}

// NewFileAuditSink opens (creating/appending) the audit log at path.
func NewFileAuditSink(path string, log zerolog.Logger) (*FileAuditSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit sink %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	return &FileAuditSink{
		log: log.With().Str("component", "audit_sink").Logger(),
		f:   f,
		w:   w,
		enc: msgpack.NewEncoder(w),
	}, nil
}

// Record implements DurableSink. Encode failures are logged, not returned:
// the audit trail is best-effort and must never block or fail publishing.
func (s *FileAuditSink) Record(topic string, event EventWithData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(auditRecord{Topic: topic, Event: event}); err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("audit encode failed")
		return
	}
	if err := s.w.Flush(); err != nil {
		s.log.Error().Err(err).Msg("audit flush failed")
	}
}

// Close flushes and closes the underlying file.
func (s *FileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}

// Archiver is satisfied by the S3 archiver; it exists so reconcile/server
// code can depend on the behavior without importing aws-sdk-go-v2 directly.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// ArchiveTick is how often RunArchiveLoop rotates and ships the local audit
// log, keeping long-lived local files bounded.
const ArchiveTick = 15 * time.Minute

// Rotate closes the current audit segment, renames it aside with a
// timestamp suffix, and reopens a fresh segment in its place. It returns
// the rotated-aside path (empty if the segment was empty, in which case no
// rotation happens) for the caller to hand to an Archiver.
func (s *FileAuditSink) Rotate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Flush(); err != nil {
		return "", fmt.Errorf("flush before rotate: %w", err)
	}
	info, err := s.f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat audit segment: %w", err)
	}
	if info.Size() == 0 {
		return "", nil
	}

	path := s.f.Name()
	if err := s.f.Close(); err != nil {
		return "", fmt.Errorf("close audit segment: %w", err)
	}

	rotated := fmt.Sprintf("%s.%d", path, time.Now().UnixNano())
	if err := os.Rename(path, rotated); err != nil {
		return "", fmt.Errorf("rename audit segment: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("reopen audit segment: %w", err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	s.enc = msgpack.NewEncoder(s.w)
	return rotated, nil
}

// RunArchiveLoop rotates sink's audit segment on every ArchiveTick and
// ships the rotated-aside file to archiver, until ctx is cancelled. Best
// effort: archive failures are logged, never fatal to the process.
func RunArchiveLoop(ctx context.Context, sink *FileAuditSink, archiver Archiver, log zerolog.Logger) {
	ticker := time.NewTicker(ArchiveTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rotated, err := sink.Rotate()
			if err != nil {
				log.Error().Err(err).Msg("audit rotate failed")
				continue
			}
			if rotated == "" {
				continue
			}
			body, err := os.ReadFile(rotated)
			if err != nil {
				log.Error().Err(err).Str("path", rotated).Msg("read rotated audit segment failed")
				continue
			}
			key := fmt.Sprintf("audit/%s", filepath.Base(rotated))
			if err := archiver.Archive(ctx, key, body); err != nil {
				log.Error().Err(err).Str("path", rotated).Msg("archive rotated audit segment failed")
				continue
			}
			if err := os.Remove(rotated); err != nil {
				log.Warn().Err(err).Str("path", rotated).Msg("remove archived audit segment failed")
			}
		}
	}
}
