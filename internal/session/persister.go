package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/miciudad/miciudad/internal/users"
)

const (
	opSave   = "save"
	opDelete = "delete"
)

type effect struct {
	op   string
	user *users.User
}

// persister applies storage effects one at a time, in the order they were queued.
type persister struct {
	repo     UserRepository
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
	onError  func(op string, err error)

	mu      sync.Mutex
	queue   []effect
	busy    bool
	closed  bool
	waiters []chan struct{}

	wake chan struct{}
	done chan struct{}
}

func newPersister(repo UserRepository, cfg storeConfig) *persister {
	return &persister{
		repo:     repo,
		timeout:  cfg.persistTimeout,
		logger:   cfg.logger,
		recorder: cfg.recorder,
		onError:  cfg.onError,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (p *persister) enqueue(e effect) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("session persister closed, dropping effect", slog.String("op", e.op))
		return
	}
	p.queue = append(p.queue, e)
	p.busy = true
	p.mu.Unlock()
	p.signal()
}

func (p *persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.busy = false
			for _, w := range p.waiters {
				close(w)
			}
			p.waiters = nil
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			<-p.wake
			continue
		}
		e := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.apply(e)
	}
}

func (p *persister) apply(e effect) {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var err error
	if p.repo != nil {
		switch e.op {
		case opSave:
			err = p.repo.SaveUser(ctx, e.user)
		case opDelete:
			err = p.repo.DeleteUser(ctx)
		}
	}

	status := "success"
	if err != nil {
		status = "failure"
		p.logger.Warn("persist session user", slog.String("op", e.op), slog.Any("error", err))
		if p.onError != nil {
			p.onError(e.op, err)
		}
	}
	if p.recorder != nil {
		p.recorder.ObservePersist(e.op, status)
	}
}

func (p *persister) sync(ctx context.Context) error {
	p.mu.Lock()
	if len(p.queue) == 0 && !p.busy {
		p.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *persister) close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
