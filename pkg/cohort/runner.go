package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

// Runner executes queued runs in the background, at most maxWorkers at a
// time.
type Runner struct {
	service *Service
	workers chan struct{}
	wg      sync.WaitGroup
}

func NewRunner(svc *Service, maxWorkers int) *Runner {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Runner{
		service: svc,
		workers: make(chan struct{}, maxWorkers),
	}
}

func (r *Runner) Enqueue(ctx context.Context, req models.CohortBuildRequest) (models.CohortRun, error) {
	run, err := r.service.NewRun(ctx, req)
	if err != nil {
		return models.CohortRun{}, err
	}

	r.wg.Add(1)
	go r.run(run, req)

	return run, nil
}

func (r *Runner) run(run models.CohortRun, req models.CohortBuildRequest) {
	defer r.wg.Done()
	r.workers <- struct{}{}
	defer func() { <-r.workers }()

	_, _, _ = r.service.Run(context.Background(), run, req)
}

// Wait blocks until every enqueued run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// HandleEvent enqueues a run for each cohort.build event; other event types
// are ignored.
func (r *Runner) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != EventBuild {
		return nil
	}
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	var req models.CohortBuildRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		r.service.log.WithError(err).WithField("event_id", event.ID).Warn("dropping undecodable build request")
		return nil
	}
	if req.RequestedBy == "" {
		req.RequestedBy = event.Source
	}
	run, err := r.Enqueue(ctx, req)
	if errors.Is(err, ErrInvalidRequest) {
		r.service.log.WithError(err).WithField("event_id", event.ID).Warn("dropping build request")
		return nil
	}
	if err != nil {
		return err
	}
	r.service.log.WithFields(map[string]interface{}{
		"run_id":   run.ID.String(),
		"event_id": event.ID,
	}).Info("cohort run queued from event")
	return nil
}
