package simulator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RunAll starts one simulation per patient and waits for all of them. Each
// worker finishes on its own: a failure in one never stops the others, and
// every worker's outcome is returned in patientIDs order.
func (d *Driver) RunAll(ctx context.Context, patientIDs []string, duration time.Duration) []Result {
	results := make([]Result, len(patientIDs))

	// worker limit
	var sem chan struct{}
	if d.MaxWorkers > 0 {
		sem = make(chan struct{}, d.MaxWorkers)
	}

	var wg sync.WaitGroup
	for i, id := range patientIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					results[i] = Result{PatientID: id, Planned: TotalReadings(duration, d.interval()), Canceled: true}
					return
				}
			}
			// errors are carried in the result
			results[i], _ = d.RunPatient(ctx, id, duration)
		}(i, id)
	}
	wg.Wait()

	for _, r := range results {
		entry := d.log().WithFields(logrus.Fields{
			"patient_id": r.PatientID,
			"persisted":  r.Persisted,
			"planned":    r.Planned,
		})
		switch {
		case r.Err != nil:
			entry.WithError(r.Err).Error("worker failed")
		case r.Canceled:
			entry.Info("worker canceled")
		default:
			entry.Debug("worker done")
		}
	}
	return results
}
