package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"stardust/internal/artifacts"
	"stardust/internal/exporter"
	"stardust/pkg/contracts/domain"
)

// Artifact key length bounds accepted by Fetch.
const (
	MinArtifactKeyLength = 20
	MaxArtifactKeyLength = 30
)

// Download formats.
const (
	FormatDefault = ""
	FormatXLSX    = "xlsx"
)

const (
	contentTypeCSV  = "text/csv"
	contentTypeJSON = "application/json"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ArtifactReader loads stored artifacts.
type ArtifactReader interface {
	Get(ctx context.Context, key string) (*artifacts.Artifact, error)
}

// OperationFinder looks operations up by uid.
type OperationFinder interface {
	Find(uid string) (*domain.Operation, bool)
}

// Download is a resolved artifact ready to be written out. Filename is
// empty for inline JSON.
type Download struct {
	ContentType string
	Filename    string
	Body        []byte
}

// DelayThrottle delays every call by a base delay times the number of calls
// in flight, the current one included. Throttles derived with WithBase count
// against the same in-flight total.
type DelayThrottle struct {
	base     time.Duration
	inflight *atomic.Int64
}

// NewDelayThrottle creates a throttle. A non-positive base disables it.
func NewDelayThrottle(base time.Duration) *DelayThrottle {
	return &DelayThrottle{base: base, inflight: new(atomic.Int64)}
}

// WithBase returns a throttle with its own base delay that shares t's
// in-flight count.
func (t *DelayThrottle) WithBase(base time.Duration) *DelayThrottle {
	return &DelayThrottle{base: base, inflight: t.inflight}
}

// Do waits its turn and then runs fn. It returns ctx.Err() if the context
// ends first.
func (t *DelayThrottle) Do(ctx context.Context, fn func() error) error {
	n := t.inflight.Add(1)
	defer t.inflight.Add(-1)

	if t.base > 0 {
		timer := time.NewTimer(time.Duration(n) * t.base)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fn()
}

// InFlight returns the number of calls currently waiting or running.
func (t *DelayThrottle) InFlight() int64 {
	return t.inflight.Load()
}

// ArtifactService serves stored operation outputs.
type ArtifactService struct {
	reader   ArtifactReader
	finder   OperationFinder
	throttle *DelayThrottle
	logger   *slog.Logger
}

// NewArtifactService creates an artifact service whose downloads wait their
// turn on throttle. A nil throttle applies no delay.
func NewArtifactService(reader ArtifactReader, finder OperationFinder, throttle *DelayThrottle, logger *slog.Logger) *ArtifactService {
	if throttle == nil {
		throttle = NewDelayThrottle(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactService{
		reader:   reader,
		finder:   finder,
		throttle: throttle,
		logger:   logger.With(slog.String("service", "artifacts")),
	}
}

// Fetch resolves key. The key must name an artifact of an operation that
// is still listed. CSV artifacts become attachments, converted to a
// spreadsheet when format is FormatXLSX; other artifacts are returned as
// JSON.
func (s *ArtifactService) Fetch(ctx context.Context, key, format string) (*Download, error) {
	var download *Download
	err := s.throttle.Do(ctx, func() error {
		var err error
		download, err = s.fetch(ctx, key, format)
		return err
	})
	return download, err
}

func (s *ArtifactService) fetch(ctx context.Context, key, format string) (*Download, error) {
	if len(key) < MinArtifactKeyLength || len(key) > MaxArtifactKeyLength {
		s.logger.WarnContext(ctx, "artifact key length out of range", slog.String("key", key))
		return nil, fmt.Errorf("%w: length %d", ErrInvalidKey, len(key))
	}
	if format != FormatDefault && format != FormatXLSX {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	uid, ok := artifacts.OperationUID(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	op, ok := s.finder.Find(uid)
	if !ok {
		s.logger.WarnContext(ctx, "artifact key references unknown operation",
			slog.String("key", key),
			slog.String("uid", uid))
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidKey, uid)
	}

	artifact, err := s.reader.Get(ctx, key)
	if errors.Is(err, artifacts.ErrNotFound) {
		s.logger.WarnContext(ctx, "artifact missing", slog.String("key", key))
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", key, err)
	}

	if !artifact.IsTabular() {
		if format == FormatXLSX {
			return nil, fmt.Errorf("%w: %s is not tabular", ErrUnsupportedFormat, key)
		}
		return &Download{ContentType: contentTypeJSON, Body: artifact.Raw}, nil
	}

	name := attachmentName(op.Request)
	if format == FormatXLSX {
		book, err := exporter.CSVToXLSX(artifact.CSV, "stats")
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", key, err)
		}
		return &Download{
			ContentType: contentTypeXLSX,
			Filename:    strings.TrimSuffix(name, ".csv") + ".xlsx",
			Body:        book,
		}, nil
	}
	return &Download{ContentType: contentTypeCSV, Filename: name, Body: artifact.CSV}, nil
}

// attachmentName names a CSV download after the request that produced it.
func attachmentName(req domain.Request) string {
	query := strings.Replace(req.OpQuery, "/", "_", 1)
	return fmt.Sprintf("kpis-%s-%d-%dspu.csv", query, req.OpCode, req.LimitStarsPerUser)
}
