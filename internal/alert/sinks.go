package alert

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Sink delivers an alert somewhere. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, a Alert) error
}

// LogSink writes alerts as warnings.
type LogSink struct {
	Log *logrus.Entry
}

func (s LogSink) Send(_ context.Context, a Alert) error {
	log := s.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log.WithFields(logrus.Fields{
		"alert_id":   a.ID.String(),
		"patient_id": a.PatientID,
		"direction":  a.Direction,
		"threshold":  a.Threshold,
		"values":     a.Values,
	}).Warnf("ALERT: %s", a)
	return nil
}

// FuncSink adapts a function to Sink.
type FuncSink func(ctx context.Context, a Alert) error

func (f FuncSink) Send(ctx context.Context, a Alert) error { return f(ctx, a) }

// MultiSink fans an alert out to every sink. A failing sink is logged and
// does not prevent delivery to the others.
type MultiSink struct {
	Sinks []Sink
	Log   *logrus.Entry
}

func (m *MultiSink) Send(ctx context.Context, a Alert) error {
	var errs []error
	for i, s := range m.Sinks {
		if err := s.Send(ctx, a); err != nil {
			if m.Log != nil {
				m.Log.WithError(err).WithField("sink", fmt.Sprintf("%T", s)).Warn("alert sink failed")
			}
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.Sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
