package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"barflow/logger"
	"barflow/models"
)

// ErrNotFound is returned by a Backend when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Backend moves raw objects. Implementations: S3Backend, LocalBackend.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Name() string
}

// StoreWriteError wraps a failed persist of key.
type StoreWriteError struct {
	Key string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// ObjectStore reads and writes tables as CSV objects on a Backend.
//
// Reads are not versioned: a write overwrites whatever is stored, so two
// concurrent runs against the same key can lose one run's update.
type ObjectStore struct {
	backend Backend
	log     *logger.Log
}

func New(backend Backend, log *logger.Log) *ObjectStore {
	return &ObjectStore{backend: backend, log: log}
}

// Read loads the series stored at key. A missing key yields an empty series
// and no error; any other failure is returned so callers never overwrite
// history they could not read.
func (s *ObjectStore) Read(ctx context.Context, key string) (models.Series, error) {
	log := s.log.WithComponent("store").WithFields(logger.Fields{"backend": s.backend.Name(), "key": key})

	data, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		log.Info("no existing data found, starting fresh")
		return models.EmptySeries(), nil
	}
	if err != nil {
		return models.Series{}, fmt.Errorf("read %s: %w", key, err)
	}

	series, err := UnmarshalSeries(data)
	if err != nil {
		return models.Series{}, fmt.Errorf("decode %s: %w", key, err)
	}
	log.WithFields(logger.Fields{"rows": series.Len()}).Debug("read series")
	return series, nil
}

// Write persists series at key, replacing any previous object.
func (s *ObjectStore) Write(ctx context.Context, key string, series models.Series) error {
	data, err := MarshalSeries(series)
	if err != nil {
		return &StoreWriteError{Key: key, Err: err}
	}
	if err := s.backend.Put(ctx, key, data, "text/csv"); err != nil {
		return &StoreWriteError{Key: key, Err: err}
	}
	s.log.WithComponent("store").WithFields(logger.Fields{
		"backend": s.backend.Name(),
		"key":     key,
		"rows":    series.Len(),
		"columns": len(models.BarFields),
	}).Info("wrote series")
	return nil
}

// WriteWide persists a wide or feature table as CSV.
func (s *ObjectStore) WriteWide(ctx context.Context, key string, t *models.WideTable) error {
	var buf bytes.Buffer
	if err := EncodeWide(&buf, t); err != nil {
		return &StoreWriteError{Key: key, Err: err}
	}
	if err := s.backend.Put(ctx, key, buf.Bytes(), "text/csv"); err != nil {
		return &StoreWriteError{Key: key, Err: err}
	}
	s.log.WithComponent("store").WithFields(logger.Fields{
		"backend": s.backend.Name(),
		"key":     key,
		"rows":    t.Len(),
		"columns": len(t.Columns()),
	}).Info("wrote table")
	return nil
}

// WriteObject stores an already encoded body.
func (s *ObjectStore) WriteObject(ctx context.Context, key string, body []byte, contentType string) error {
	if err := s.backend.Put(ctx, key, body, contentType); err != nil {
		return &StoreWriteError{Key: key, Err: err}
	}
	s.log.WithComponent("store").WithFields(logger.Fields{
		"backend": s.backend.Name(),
		"key":     key,
		"bytes":   len(body),
	}).Info("wrote object")
	return nil
}
