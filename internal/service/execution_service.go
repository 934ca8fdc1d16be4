package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/evo-learning/assess-api/internal/dto"
	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/internal/repository"
	"github.com/evo-learning/assess-api/pkg/sandbox"
)

var (
	// ErrNotCodingExercise rejects execution requests on non-coding slots.
	ErrNotCodingExercise = errors.New("exercise is not a coding exercise")
	// ErrEmptySubmission rejects execution requests without submitted code.
	ErrEmptySubmission = errors.New("slot has no code to run")
)

// SubjectExecutionComplete is the NATS subject finished runs are published on.
const SubjectExecutionComplete = "assess.execution.complete"

// executionMaxAttempts bounds transient retries before a run is persisted as
// a terminal internal error.
const executionMaxAttempts = 5

var (
	executionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "evo",
		Subsystem: "execution",
		Name:      "queue_depth",
		Help:      "Number of code runs waiting for a worker",
	})

	executionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evo",
		Subsystem: "execution",
		Name:      "retries_total",
		Help:      "Number of retried code runs",
	})

	executionTerminalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evo",
		Subsystem: "execution",
		Name:      "terminal_failures_total",
		Help:      "Number of code runs persisted as internal errors after exhausting retries",
	})
)

// ExecutionService runs submitted code asynchronously. Enqueue marks the slot
// as running and returns immediately; a worker pool executes the code, retries
// transient sandbox failures with exponential backoff, and persists the final
// results. Re-running a slot supersedes the in-flight run: its results are
// discarded, never merged.
type ExecutionService interface {
	Enqueue(ctx context.Context, participationID uint, slotNumber int) (dto.ExecutionEnqueuedResponse, error)
	// Subscribe delivers completion events for one participation. The
	// returned func must be called to release the subscription.
	Subscribe(participationID uint) (<-chan dto.ExecutionCompleteEvent, func())
	Close()
}

type executionJob struct {
	slotID          uint
	participationID uint
	slotNumber      int
	token           string
	request         sandbox.Request
	ctx             context.Context
}

type executionService struct {
	participations repository.ParticipationRepository
	guard          ParticipationService
	runner         sandbox.Runner
	nats           *nats.Conn
	logger         zerolog.Logger
	retryBase      time.Duration

	jobs    chan executionJob
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc

	mu          sync.Mutex
	inFlight    map[uint]context.CancelFunc
	subscribers map[uint][]chan dto.ExecutionCompleteEvent
}

// NewExecutionService builds the service and starts its worker pool. The
// NATS connection is optional; without it completion events only reach local
// subscribers.
func NewExecutionService(
	participations repository.ParticipationRepository,
	guard ParticipationService,
	runner sandbox.Runner,
	natsConn *nats.Conn,
	workers int,
	logger zerolog.Logger,
) ExecutionService {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &executionService{
		participations: participations,
		guard:          guard,
		runner:         runner,
		nats:           natsConn,
		logger:         logger.With().Str("component", "execution_service").Logger(),
		retryBase:      time.Second,
		jobs:           make(chan executionJob, 256),
		baseCtx:        ctx,
		stop:           cancel,
		inFlight:       make(map[uint]context.CancelFunc),
		subscribers:    make(map[uint][]chan dto.ExecutionCompleteEvent),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *executionService) Close() {
	s.stop()
	close(s.jobs)
	s.wg.Wait()
}

// Enqueue validates the slot, marks it running and queues the run. The
// caller's context only covers validation; the run itself is tied to the
// service lifetime so an HTTP disconnect does not abort it.
func (s *executionService) Enqueue(ctx context.Context, participationID uint, slotNumber int) (dto.ExecutionEnqueuedResponse, error) {
	participation, err := s.guard.CheckWritable(ctx, participationID)
	if err != nil {
		return dto.ExecutionEnqueuedResponse{}, err
	}

	slot, err := s.participations.GetSubmissionSlotByNumber(ctx, participation.ID, slotNumber)
	if err != nil {
		return dto.ExecutionEnqueuedResponse{}, ErrSlotNotFound
	}
	if !slot.Exercise.Kind.IsCoding() {
		return dto.ExecutionEnqueuedResponse{}, ErrNotCodingExercise
	}
	if slot.AnswerText == "" {
		return dto.ExecutionEnqueuedResponse{}, ErrEmptySubmission
	}

	token := uuid.NewString()
	running, _ := json.Marshal(sandbox.Running())
	slot.ExecutionToken = token
	slot.ExecutionResults = running
	if err := s.participations.UpdateSubmissionSlot(ctx, &slot); err != nil {
		return dto.ExecutionEnqueuedResponse{}, err
	}

	jobCtx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	if prev, ok := s.inFlight[slot.ID]; ok {
		prev()
	}
	s.inFlight[slot.ID] = cancel
	s.mu.Unlock()

	s.jobs <- executionJob{
		slotID:          slot.ID,
		participationID: participation.ID,
		slotNumber:      slotNumber,
		token:           token,
		ctx:             jobCtx,
		request: sandbox.Request{
			Language:  languageFor(slot.Exercise.Kind),
			Source:    slot.AnswerText,
			TestCases: sandboxTestCases(slot.Exercise.TestCases),
		},
	}
	executionQueueDepth.Inc()

	return dto.ExecutionEnqueuedResponse{
		ParticipationID: participation.ID,
		SlotNumber:      slotNumber,
		State:           string(sandbox.StateRunning),
	}, nil
}

func (s *executionService) Subscribe(participationID uint) (<-chan dto.ExecutionCompleteEvent, func()) {
	ch := make(chan dto.ExecutionCompleteEvent, 8)
	s.mu.Lock()
	s.subscribers[participationID] = append(s.subscribers[participationID], ch)
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subscribers[participationID]
		for i, candidate := range subs {
			if candidate == ch {
				s.subscribers[participationID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
}

func (s *executionService) worker() {
	defer s.wg.Done()
	for job := range s.jobs {
		executionQueueDepth.Dec()
		s.process(job)
	}
}

// process runs the job with bounded retries. Only transient failures are
// retried: a compilation error or failing tests are valid, final outcomes.
func (s *executionService) process(job executionJob) {
	var results sandbox.ExecutionResults
	for attempt := 1; ; attempt++ {
		results = s.runner.Execute(job.ctx, job.request)
		if results.State != sandbox.StateInternalError || attempt >= executionMaxAttempts {
			break
		}
		if job.ctx.Err() != nil {
			return
		}
		executionRetries.Inc()
		s.logger.Warn().
			Uint("slot_id", job.slotID).
			Int("attempt", attempt).
			Str("error", results.ExecutionError).
			Msg("code run failed, retrying")
		select {
		case <-job.ctx.Done():
			return
		case <-time.After(s.retryBase << (attempt - 1)):
		}
	}
	if job.ctx.Err() != nil {
		// Superseded by a newer run for the same slot.
		return
	}
	if results.State == sandbox.StateInternalError {
		executionTerminalFailures.Inc()
	}
	s.finish(job, results)
}

// finish persists the results and publishes the completion event, provided
// the slot still carries this run's token.
func (s *executionService) finish(job executionJob, results sandbox.ExecutionResults) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slot, err := s.participations.GetSubmissionSlot(ctx, job.slotID)
	if err != nil {
		s.logger.Error().Err(err).Uint("slot_id", job.slotID).Msg("cannot load slot to persist run results")
		return
	}
	if slot.ExecutionToken != job.token {
		return
	}

	payload, err := json.Marshal(results)
	if err != nil {
		s.logger.Error().Err(err).Uint("slot_id", job.slotID).Msg("cannot marshal run results")
		return
	}
	slot.ExecutionResults = payload
	if err := s.participations.UpdateSubmissionSlot(ctx, &slot); err != nil {
		s.logger.Error().Err(err).Uint("slot_id", job.slotID).Msg("cannot persist run results")
		return
	}

	s.mu.Lock()
	if cancelRun, ok := s.inFlight[job.slotID]; ok {
		cancelRun()
		delete(s.inFlight, job.slotID)
	}
	s.mu.Unlock()

	event := dto.ExecutionCompleteEvent{
		ParticipationID: job.participationID,
		SlotNumber:      job.slotNumber,
		Results:         results,
	}
	s.publish(event)
}

func (s *executionService) publish(event dto.ExecutionCompleteEvent) {
	if s.nats != nil {
		if payload, err := json.Marshal(event); err == nil {
			if err := s.nats.Publish(SubjectExecutionComplete, payload); err != nil {
				s.logger.Warn().Err(err).Msg("nats publish failed")
			}
		}
	}

	s.mu.Lock()
	subs := append([]chan dto.ExecutionCompleteEvent(nil), s.subscribers[event.ParticipationID]...)
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber, drop rather than block the worker.
		}
	}
}

func languageFor(kind models.ExerciseKind) sandbox.Language {
	switch kind {
	case models.ExerciseKindC:
		return sandbox.LanguageC
	case models.ExerciseKindPython:
		return sandbox.LanguagePython
	default:
		return sandbox.LanguageJS
	}
}

func sandboxTestCases(testcases []models.ExerciseTestCase) []sandbox.TestCase {
	out := make([]sandbox.TestCase, 0, len(testcases))
	for _, tc := range testcases {
		out = append(out, sandbox.TestCase{
			ID:             tc.ID,
			Code:           tc.Code,
			Stdin:          tc.Stdin,
			ExpectedStdout: tc.ExpectedStdout,
		})
	}
	return out
}
