package alert

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize bounds FileSink's pending alerts when unset.
const DefaultQueueSize = 100

// ErrQueueFull is returned by FileSink.Send when the writer has fallen behind.
var ErrQueueFull = errors.New("alert file queue full")

// FileSink appends alerts to a JSONL file from a background writer.
type FileSink struct {
	path string
	q    chan Alert
	log  *logrus.Entry

	file   *os.File
	writer *bufio.Writer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFileSink ensures the parent directory exists, opens path for append and
// starts the writer.
func NewFileSink(path string, queueSize int, log *logrus.Entry) (*FileSink, error) {
	if path == "" {
		path = filepath.Join("data", "alerts.jsonl")
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open alert file: %w", err)
	}

	s := &FileSink{
		path:   path,
		q:      make(chan Alert, queueSize),
		log:    log.WithField("sink", "file"),
		file:   f,
		writer: bufio.NewWriterSize(f, 16*1024),
		closed: make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (s *FileSink) loop() {
	defer close(s.closed)
	for a := range s.q {
		if err := s.write(a); err != nil {
			s.log.WithError(err).Error("write alert")
		}
		// flush when idle so a tail -f sees alerts promptly
		if len(s.q) == 0 {
			_ = s.writer.Flush()
		}
	}
	_ = s.writer.Flush()
}

// Path is the output file.
func (s *FileSink) Path() string { return s.path }

// Send queues a. It never blocks.
func (s *FileSink) Send(_ context.Context, a Alert) error {
	select {
	case <-s.closed:
		return errors.New("alert file sink closed")
	default:
	}
	select {
	case s.q <- a:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drains queued alerts and closes the file. Send must not be called
// concurrently with Close.
func (s *FileSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.q)
		<-s.closed
		err = s.file.Close()
	})
	return err
}

func (s *FileSink) write(a Alert) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if _, err := s.writer.Write(b); err != nil {
		return err
	}
	return s.writer.WriteByte('\n')
}
