package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/domen-source/storyweaver-consumer/internal/domain"
	"github.com/domen-source/storyweaver-consumer/internal/platform/requestctx"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 60 * time.Second
	defaultPreviewPages = 4

	// TimeoutNotice is shown when the full book is still generating after the poll timeout.
	TimeoutNotice     = "Generation is taking longer than expected. Please refresh the page."
	startFailedNotice = "Full book generation could not be started. Please try again."
	interruptedNotice = "Generation tracking was interrupted. Please refresh the page."
)

// GenerationServiceDeps wires the dependencies required by the generation service.
type GenerationServiceDeps struct {
	Backend      BackendAPI
	Sessions     *SessionStore
	PollInterval time.Duration
	PollTimeout  time.Duration
	PreviewPages int
	Clock        func() time.Time
	Logger       Logger
}

type generationJob struct {
	status     JobStatus
	percent    int
	notice     string
	pages      []domain.OrderPage
	startedAt  time.Time
	finishedAt time.Time
}

type generationService struct {
	backend      BackendAPI
	sessions     *SessionStore
	interval     time.Duration
	timeout      time.Duration
	previewPages int
	now          func() time.Time
	logger       Logger

	root   context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewGenerationService constructs a GenerationService validating required dependencies.
// Background poll jobs run until Close is called.
func NewGenerationService(deps GenerationServiceDeps) (GenerationService, error) {
	if deps.Backend == nil {
		return nil, errors.New("generation service: backend is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("generation service: session store is required")
	}
	interval := deps.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := deps.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	previewPages := deps.PreviewPages
	if previewPages <= 0 {
		previewPages = defaultPreviewPages
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	root, cancel := context.WithCancel(context.Background())
	return &generationService{
		backend:      deps.Backend,
		sessions:     deps.Sessions,
		interval:     interval,
		timeout:      timeout,
		previewPages: previewPages,
		now:          func() time.Time { return clock().UTC() },
		logger:       logger,
		root:         root,
		cancel:       cancel,
	}, nil
}

// RequestAvatars generates avatars once every role is named and uploaded.
func (s *generationService) RequestAvatars(ctx context.Context, orderID string) (AvatarResult, error) {
	orderID = strings.TrimSpace(orderID)
	if err := s.sessions.ensure(ctx, s.backend, orderID); err != nil {
		return AvatarResult{}, err
	}

	var previous domain.GenerationState
	if _, err := s.sessions.with(orderID, func(session *orderSession) error {
		form := buildForm(session)
		if !form.CanGenerate {
			return validationError("%s", form.Hint)
		}
		next, err := session.state.Transition(domain.GenerationStateAvatarsRequested)
		if err != nil {
			return validationError("%v", err)
		}
		previous, session.state = session.state, next
		return nil
	}); err != nil {
		return AvatarResult{}, err
	}

	message, err := s.backend.GenerateAvatars(ctx, orderID)
	if err != nil {
		s.rollback(orderID, domain.GenerationStateAvatarsRequested, previous)
		s.logger(ctx, "generation.avatars.failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return AvatarResult{}, networkError(err)
	}

	avatars := map[string]string{}
	if order, err := s.backend.OrderStatus(ctx, orderID); err != nil {
		s.logger(ctx, "generation.avatars.status_failed", map[string]any{"orderId": orderID, "error": err.Error()})
	} else {
		avatars = order.Avatars()
	}

	result := AvatarResult{OrderID: orderID, Message: message, Avatars: avatars}
	_, _ = s.sessions.with(orderID, func(session *orderSession) error {
		session.avatars = copyStringMap(avatars)
		if session.state == domain.GenerationStateAvatarsRequested {
			session.state = domain.GenerationStateAvatarsReady
		}
		result.State = session.state
		return nil
	})
	s.logger(ctx, "generation.avatars.ready", map[string]any{"orderId": orderID, "avatars": len(avatars)})
	return result, nil
}

// RequestPreview generates the teaser pages after the avatars were approved.
func (s *generationService) RequestPreview(ctx context.Context, orderID string) (PreviewRequestResult, error) {
	orderID = strings.TrimSpace(orderID)
	if err := s.sessions.ensure(ctx, s.backend, orderID); err != nil {
		return PreviewRequestResult{}, err
	}

	if _, err := s.sessions.with(orderID, func(session *orderSession) error {
		next, err := session.state.Transition(domain.GenerationStatePreviewRequested)
		if err != nil {
			return validationError("%v", err)
		}
		session.state = next
		return nil
	}); err != nil {
		return PreviewRequestResult{}, err
	}

	message, err := s.backend.GeneratePreview(ctx, orderID)
	if err != nil {
		s.rollback(orderID, domain.GenerationStatePreviewRequested, domain.GenerationStateAvatarsReady)
		s.logger(ctx, "generation.preview.failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return PreviewRequestResult{}, networkError(err)
	}

	result := PreviewRequestResult{OrderID: orderID, Message: message, PreviewPath: "/preview/" + orderID}
	_, _ = s.sessions.with(orderID, func(session *orderSession) error {
		if session.state == domain.GenerationStatePreviewRequested {
			session.state = domain.GenerationStatePreviewReady
		}
		result.State = session.state
		return nil
	})
	s.logger(ctx, "generation.preview.ready", map[string]any{"orderId": orderID})
	return result, nil
}

// ReconcilePages merges generated pages with the template so the viewer always
// shows one entry per template page.
func (s *generationService) ReconcilePages(ctx context.Context, orderID string, paid bool) ([]domain.OrderPage, error) {
	orderID = strings.TrimSpace(orderID)
	if err := s.sessions.ensure(ctx, s.backend, orderID); err != nil {
		return nil, err
	}
	var book domain.Book
	_, _ = s.sessions.with(orderID, func(session *orderSession) error {
		book = session.book
		return nil
	})

	var (
		generated []domain.GeneratedPage
		order     domain.Order
		statusOK  bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pages, err := s.backend.OrderPages(gctx, orderID)
		if err != nil {
			return err
		}
		generated = pages
		return nil
	})
	g.Go(func() error {
		status, err := s.backend.OrderStatus(gctx, orderID)
		if err != nil {
			s.logger(ctx, "generation.reconcile.status_failed", map[string]any{"orderId": orderID, "error": err.Error()})
			return nil
		}
		order, statusOK = status, true
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, translateBackendError(err)
	}
	if statusOK {
		s.observeStatus(orderID, order)
	}
	return reconcilePages(book, generated, paid, s.previewPages), nil
}

// Preview returns the gated viewer. Unpaid viewers get the first N pages with
// the last of them locked; paid viewers get every page unlocked.
func (s *generationService) Preview(ctx context.Context, orderID string, paid bool) (PreviewView, error) {
	pages, err := s.ReconcilePages(ctx, orderID, paid)
	if err != nil {
		return PreviewView{}, err
	}
	orderID = strings.TrimSpace(orderID)
	view := PreviewView{OrderID: orderID, Paid: paid, TotalPages: len(pages)}
	_, _ = s.sessions.with(orderID, func(session *orderSession) error {
		if paid {
			promotePaid(session)
		} else if session.state == domain.GenerationStatePreviewReady {
			session.state = domain.GenerationStateUnpaidLocked
		}
		view.State = session.state
		return nil
	})
	if !paid {
		pages = teaserPages(pages, s.previewPages)
	}
	view.Pages = pages
	return view, nil
}

// MarkPaid records that payment for the order was verified.
func (s *generationService) MarkPaid(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if err := s.sessions.ensure(ctx, s.backend, orderID); err != nil {
		return err
	}
	_, _ = s.sessions.with(orderID, func(session *orderSession) error {
		promotePaid(session)
		return nil
	})
	return nil
}

// StartFullBook starts full-book generation and one background poll job per
// order. A running job is returned as is; a timed out job resumes polling
// without triggering generation again.
func (s *generationService) StartFullBook(ctx context.Context, orderID string, paid bool) (GenerationSnapshot, error) {
	orderID = strings.TrimSpace(orderID)
	if err := s.sessions.ensure(ctx, s.backend, orderID); err != nil {
		return GenerationSnapshot{}, err
	}
	if !s.reserveJob() {
		return GenerationSnapshot{}, ErrUnavailable
	}

	var (
		snapshot GenerationSnapshot
		job      *generationJob
		resume   bool
	)
	_, err := s.sessions.with(orderID, func(session *orderSession) error {
		if paid {
			promotePaid(session)
		}
		switch session.state {
		case domain.GenerationStateFullBookReady:
			snapshot = snapshotOf(session)
			return nil
		case domain.GenerationStateFullBookRequested:
			if session.job != nil && session.job.status == JobStatusRunning {
				snapshot = snapshotOf(session)
				return nil
			}
			resume = true
		case domain.GenerationStatePaid:
			session.state = domain.GenerationStateFullBookRequested
		case domain.GenerationStatePreviewReady, domain.GenerationStateUnpaidLocked:
			return ErrPaymentRequired
		default:
			return validationError("order %s has no preview yet", orderID)
		}
		percent := 0
		if session.job != nil {
			percent = session.job.percent
		}
		job = &generationJob{status: JobStatusRunning, percent: percent, startedAt: s.now()}
		session.job = job
		snapshot = snapshotOf(session)
		return nil
	})
	if err != nil || job == nil {
		s.wg.Done()
		return snapshot, err
	}

	s.logger(ctx, "generation.full_book.started", map[string]any{"orderId": orderID, "resume": resume})
	go s.runFullBook(orderID, job, resume)
	return snapshot, nil
}

// PollGeneration polls order status until the book is complete, the timeout
// fires or ctx is cancelled. Reported progress never decreases.
func (s *generationService) PollGeneration(ctx context.Context, orderID string, onProgress func(percent int)) (PollResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return PollResult{}, validationError("order id is required")
	}

	// Backend calls run under pollCtx; the deadline also bounds in-flight requests.
	pollCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	percent := 0
	report := func(p int) {
		if p <= percent {
			return
		}
		percent = p
		if onProgress != nil {
			onProgress(p)
		}
	}

	for {
		if pollCtx.Err() != nil {
			return s.pollStopped(ctx, orderID, percent)
		}
		if s.pollOnce(pollCtx, orderID, report) {
			report(100)
			pages, err := s.ReconcilePages(pollCtx, orderID, true)
			if err != nil {
				s.logger(ctx, "generation.poll.pages_failed", map[string]any{"orderId": orderID, "error": err.Error()})
			}
			_, _ = s.sessions.with(orderID, func(session *orderSession) error {
				if session.state == domain.GenerationStateFullBookRequested {
					session.state = domain.GenerationStateFullBookReady
				}
				return nil
			})
			s.logger(ctx, "generation.poll.complete", map[string]any{"orderId": orderID, "pages": len(pages)})
			return PollResult{Percent: percent, Complete: true, Pages: pages}, nil
		}

		select {
		case <-pollCtx.Done():
			return s.pollStopped(ctx, orderID, percent)
		case <-ticker.C:
		}
	}
}

// pollStopped reports why the poll loop ended without completion: the caller
// cancelled ctx, or the poll timeout elapsed.
func (s *generationService) pollStopped(ctx context.Context, orderID string, percent int) (PollResult, error) {
	if err := ctx.Err(); err != nil {
		return PollResult{Percent: percent}, err
	}
	s.logger(ctx, "generation.poll.timeout", map[string]any{"orderId": orderID, "percent": percent})
	return PollResult{Percent: percent, TimedOut: true}, ErrTimeout
}

// Generation returns a snapshot of the order's full-book job.
func (s *generationService) Generation(ctx context.Context, orderID string) (GenerationSnapshot, error) {
	orderID = strings.TrimSpace(orderID)
	if err := s.sessions.ensure(ctx, s.backend, orderID); err != nil {
		return GenerationSnapshot{}, err
	}
	var snapshot GenerationSnapshot
	_, _ = s.sessions.with(orderID, func(session *orderSession) error {
		snapshot = snapshotOf(session)
		return nil
	})
	return snapshot, nil
}

// Close cancels running poll jobs and waits for them to exit.
func (s *generationService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *generationService) reserveJob() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *generationService) runFullBook(orderID string, job *generationJob, resume bool) {
	defer s.wg.Done()
	ctx := requestctx.WithOrderID(s.root, orderID)

	if !resume {
		message, err := s.backend.GeneratePages(ctx, orderID)
		if err != nil {
			s.logger(ctx, "generation.full_book.failed", map[string]any{"orderId": orderID, "error": err.Error()})
			s.rollback(orderID, domain.GenerationStateFullBookRequested, domain.GenerationStatePaid)
			s.finishJob(orderID, job, JobStatusFailed, startFailedNotice, nil)
			return
		}
		s.logger(ctx, "generation.full_book.requested", map[string]any{"orderId": orderID, "message": message})
	}

	result, err := s.PollGeneration(ctx, orderID, func(percent int) {
		_, _ = s.sessions.with(orderID, func(*orderSession) error {
			if percent > job.percent {
				job.percent = percent
			}
			return nil
		})
	})
	switch {
	case err == nil:
		s.finishJob(orderID, job, JobStatusComplete, "", result.Pages)
	case errors.Is(err, ErrTimeout):
		s.finishJob(orderID, job, JobStatusTimedOut, TimeoutNotice, nil)
	default:
		s.finishJob(orderID, job, JobStatusFailed, interruptedNotice, nil)
	}
}

func (s *generationService) finishJob(orderID string, job *generationJob, status JobStatus, notice string, pages []domain.OrderPage) {
	_, _ = s.sessions.with(orderID, func(*orderSession) error {
		job.status = status
		job.notice = notice
		job.pages = pages
		job.finishedAt = s.now()
		if status == JobStatusComplete {
			job.percent = 100
		}
		return nil
	})
}

func (s *generationService) pollOnce(ctx context.Context, orderID string, report func(int)) bool {
	order, err := s.backend.OrderStatus(ctx, orderID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger(ctx, "generation.poll.failed", map[string]any{"orderId": orderID, "error": err.Error()})
		}
		return false
	}
	report(order.Progress.Percent())
	return order.Complete()
}

func (s *generationService) rollback(orderID string, from, to domain.GenerationState) {
	_, _ = s.sessions.with(orderID, func(session *orderSession) error {
		if session.state == from {
			session.state = to
		}
		return nil
	})
}

// observeStatus folds backend status into the session.
func (s *generationService) observeStatus(orderID string, order domain.Order) {
	_, _ = s.sessions.with(orderID, func(session *orderSession) error {
		if avatars := order.Avatars(); len(avatars) > 0 {
			session.avatars = avatars
		}
		switch {
		case order.PreviewGenerated && session.state == domain.GenerationStatePreviewRequested:
			session.state = domain.GenerationStatePreviewReady
		case order.BookComplete && session.state == domain.GenerationStateFullBookRequested:
			session.state = domain.GenerationStateFullBookReady
		}
		return nil
	})
}

func promotePaid(session *orderSession) {
	switch session.state {
	case domain.GenerationStatePreviewReady, domain.GenerationStateUnpaidLocked:
		session.state = domain.GenerationStatePaid
	}
}

func snapshotOf(session *orderSession) GenerationSnapshot {
	snapshot := GenerationSnapshot{OrderID: session.orderID, State: session.state, Status: JobStatusIdle}
	if session.job != nil {
		job := session.job
		snapshot.Status = job.status
		snapshot.Percent = job.percent
		snapshot.Notice = job.notice
		snapshot.StartedAt = job.startedAt
		snapshot.FinishedAt = job.finishedAt
		if len(job.pages) > 0 {
			snapshot.Pages = append([]domain.OrderPage(nil), job.pages...)
		}
	}
	if session.state == domain.GenerationStateFullBookReady && snapshot.Status != JobStatusComplete && snapshot.Status != JobStatusRunning {
		snapshot.Status = JobStatusComplete
		snapshot.Percent = 100
		snapshot.Notice = ""
	}
	return snapshot
}

// reconcilePages returns one page per template page. Generated pages win;
// missing ones fall back to the template art as locked placeholders. When the
// template has no pages the generated pages define the count.
func reconcilePages(book domain.Book, generated []domain.GeneratedPage, paid bool, previewLimit int) []domain.OrderPage {
	byNumber := make(map[int]domain.GeneratedPage, len(generated))
	highest := -1
	for _, page := range generated {
		if page.PageNumber < 0 {
			continue
		}
		if existing, ok := byNumber[page.PageNumber]; ok && existing.ImageURL != "" && page.ImageURL == "" {
			continue
		}
		byNumber[page.PageNumber] = page
		if page.PageNumber > highest {
			highest = page.PageNumber
		}
	}

	count := book.PageCount()
	if count == 0 {
		count = highest + 1
	}

	pages := make([]domain.OrderPage, 0, count)
	for i := 0; i < count; i++ {
		if page, ok := byNumber[i]; ok && strings.TrimSpace(page.ImageURL) != "" {
			pages = append(pages, domain.OrderPage{
				PageNumber: i,
				ImageURL:   page.ImageURL,
				CreatedAt:  page.CreatedAt,
				Unlocked:   paid || isPreviewPage(page, i, previewLimit),
			})
			continue
		}
		placeholder := domain.OrderPage{PageNumber: i, Placeholder: true, Unlocked: paid}
		if i < len(book.Template.Pages) {
			placeholder.ImageURL = book.Template.Pages[i].ImageURL
		}
		pages = append(pages, placeholder)
	}
	return pages
}

func isPreviewPage(page domain.GeneratedPage, index, limit int) bool {
	if page.Preview != nil {
		return *page.Preview
	}
	return index < limit-1
}

// teaserPages keeps the first limit pages, unlocking all but the last of them.
func teaserPages(pages []domain.OrderPage, limit int) []domain.OrderPage {
	if len(pages) > limit {
		pages = pages[:limit]
	}
	out := make([]domain.OrderPage, len(pages))
	for i, page := range pages {
		page.Unlocked = i < limit-1
		out[i] = page
	}
	return out
}
