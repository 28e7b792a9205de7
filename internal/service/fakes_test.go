package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/notifyco/notify-engine/internal/domain"
	"github.com/notifyco/notify-engine/internal/provider"
	"github.com/notifyco/notify-engine/internal/queue"
	"github.com/notifyco/notify-engine/internal/repository"
)

// fakeJobRepo is an in-memory JobRepository with the same transition
// semantics as the gorm implementation, including the claim CAS.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job

	createErr   error
	claimErr    error
	releaseErr  error
	scheduleErr error
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*domain.Job)}
}

func (r *fakeJobRepo) put(j domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := j
	r.jobs[j.ID] = &copied
}

func (r *fakeJobRepo) get(id string) (domain.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return *j, true
}

func (r *fakeJobRepo) Create(_ context.Context, j *domain.Job) error {
	if r.createErr != nil {
		return r.createErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if j.IdempotencyKey != nil {
		for _, existing := range r.jobs {
			if existing.CustomerID == j.CustomerID &&
				existing.IdempotencyKey != nil &&
				*existing.IdempotencyKey == *j.IdempotencyKey {
				return fmt.Errorf("duplicate key value violates unique constraint")
			}
		}
	}

	j.CreatedAt = time.Now().UTC()
	copied := *j
	r.jobs[j.ID] = &copied
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (r *fakeJobRepo) GetForCustomer(_ context.Context, customerID, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.CustomerID != customerID {
		return nil, domain.ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (r *fakeJobRepo) GetByIdempotencyKey(_ context.Context, customerID, idempotencyKey string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.CustomerID == customerID && j.IdempotencyKey != nil && *j.IdempotencyKey == idempotencyKey {
			copied := *j
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeJobRepo) List(_ context.Context, params repository.ListParams) ([]domain.Job, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []domain.Job
	for _, j := range r.jobs {
		if j.CustomerID != params.CustomerID {
			continue
		}
		if params.Type != nil && j.Type != *params.Type {
			continue
		}
		if params.Status != nil && j.Status != *params.Status {
			continue
		}
		matched = append(matched, *j)
	}

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})

	total := int64(len(matched))
	start := (params.Page - 1) * params.Limit
	if start >= len(matched) {
		return nil, total, nil
	}
	end := min(start+params.Limit, len(matched))
	return matched[start:end], total, nil
}

func (r *fakeJobRepo) ClaimForProcessing(_ context.Context, id string) (*domain.Job, error) {
	if r.claimErr != nil {
		return nil, r.claimErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.Status != domain.StatusPending {
		return nil, nil
	}

	now := time.Now().UTC()
	j.Status = domain.StatusProcessing
	j.Attempts++
	if j.StartedAt == nil {
		j.StartedAt = &now
	}

	copied := *j
	return &copied, nil
}

func (r *fakeJobRepo) ReleaseClaim(_ context.Context, id string) error {
	if r.releaseErr != nil {
		return r.releaseErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.Status != domain.StatusProcessing {
		return domain.ErrNotFound
	}
	j.Status = domain.StatusPending
	if j.Attempts > 0 {
		j.Attempts--
	}
	return nil
}

func (r *fakeJobRepo) MarkCompleted(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = domain.StatusCompleted
	j.CompletedAt = &now
	j.ErrorMessage = nil
	return nil
}

func (r *fakeJobRepo) MarkFailed(_ context.Context, id string, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = domain.StatusFailed
	j.ErrorMessage = &errorMessage
	return nil
}

func (r *fakeJobRepo) ScheduleRetry(_ context.Context, id string, nextRetryAt time.Time) error {
	if r.scheduleErr != nil {
		return r.scheduleErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = domain.StatusPending
	j.NextRetryAt = &nextRetryAt
	return nil
}

func (r *fakeJobRepo) ResetForRetry(_ context.Context, customerID, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.CustomerID != customerID || j.Status != domain.StatusFailed {
		return nil, domain.ErrNotFound
	}

	j.Status = domain.StatusPending
	j.Attempts = 0
	j.ErrorMessage = nil
	j.NextRetryAt = nil
	j.CompletedAt = nil

	copied := *j
	return &copied, nil
}

func (r *fakeJobRepo) GetDueForRetry(_ context.Context, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var due []domain.Job
	for _, j := range r.jobs {
		if j.Status == domain.StatusPending && j.NextRetryAt != nil && !j.NextRetryAt.After(now) {
			due = append(due, *j)
		}
	}

	sort.Slice(due, func(i, k int) bool {
		return due[i].NextRetryAt.Before(*due[k].NextRetryAt)
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *fakeJobRepo) ClearNextRetryAt(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.NextRetryAt = nil
	return nil
}

type fakeDeliveryLogRepo struct {
	mu   sync.Mutex
	logs []domain.DeliveryLog

	createErr error
}

func (r *fakeDeliveryLogRepo) Create(_ context.Context, l *domain.DeliveryLog) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *l)
	return nil
}

func (r *fakeDeliveryLogRepo) GetByJobID(_ context.Context, jobID string) ([]domain.DeliveryLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.DeliveryLog
	for _, l := range r.logs {
		if l.JobID == jobID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Attempt < out[k].Attempt })
	return out, nil
}

func (r *fakeDeliveryLogRepo) forJob(jobID string) []domain.DeliveryLog {
	out, _ := r.GetByJobID(context.Background(), jobID)
	return out
}

type fakeCustomerRepo struct {
	mu      sync.Mutex
	routing map[string]*domain.CustomerRouting
	keys    map[string]string

	getErr error
}

func newFakeCustomerRepo() *fakeCustomerRepo {
	return &fakeCustomerRepo{
		routing: make(map[string]*domain.CustomerRouting),
		keys:    make(map[string]string),
	}
}

func (r *fakeCustomerRepo) GetRouting(_ context.Context, customerID string) (*domain.CustomerRouting, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	routing, ok := r.routing[customerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *routing
	return &copied, nil
}

func (r *fakeCustomerRepo) ResolveAPIKey(_ context.Context, apiKey string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.keys[apiKey]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

type publishedMessage struct {
	Queue   string
	Message queue.JobMessage
}

type deadLetteredMessage struct {
	JobType domain.JobType
	Message queue.JobMessage
	Reason  string
}

type fakePublisher struct {
	mu          sync.Mutex
	published   []publishedMessage
	deadLetters []deadLetteredMessage

	publishErr error
	dlqErr     error
}

func (p *fakePublisher) Publish(_ context.Context, queueName string, msg queue.JobMessage) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedMessage{Queue: queueName, Message: msg})
	return nil
}

func (p *fakePublisher) MoveToDeadLetter(_ context.Context, jobType domain.JobType, msg queue.JobMessage, reason string) error {
	if p.dlqErr != nil {
		return p.dlqErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deadLetters = append(p.deadLetters, deadLetteredMessage{JobType: jobType, Message: msg, Reason: reason})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) publishedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func (p *fakePublisher) deadLetterCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.deadLetters)
}

// fakeProvider returns scripted results per call, repeating the last entry
// once the script runs out.
type fakeProvider struct {
	mu          sync.Mutex
	results     []fakeSendResult
	calls       int
	lastRouting *domain.CustomerRouting
}

type fakeSendResult struct {
	resp *provider.ProviderResponse
	err  error
}

func (p *fakeProvider) Send(_ context.Context, _ domain.Job, routing *domain.CustomerRouting) (*provider.ProviderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastRouting = routing
	idx := p.calls
	p.calls++
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	if idx < 0 {
		return &provider.ProviderResponse{StatusCode: 200}, nil
	}
	return p.results[idx].resp, p.results[idx].err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeRateLimiter struct {
	mu      sync.Mutex
	waits   []string
	waitErr error
}

func (l *fakeRateLimiter) Allow(_ context.Context, _ string) (bool, error) { return true, nil }

func (l *fakeRateLimiter) Wait(_ context.Context, scope string) error {
	if l.waitErr != nil {
		return l.waitErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits = append(l.waits, scope)
	return nil
}
