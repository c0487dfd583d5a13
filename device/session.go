package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrSessionBusy is returned by TryAcquire when another operation holds the
// session.
var ErrSessionBusy = errors.New("device session busy")

// Session grants exclusive use of a device. A signing operation holds the
// session from its first registration round until its last signature, so
// that no other operation can reset or advance the device signing context
// in between.
type Session struct {
	svc Service
	sem *semaphore.Weighted
}

// NewSession wraps svc in an exclusive session.
func NewSession(svc Service) *Session {
	return &Session{
		svc: svc,
		sem: semaphore.NewWeighted(1),
	}
}

// Acquire blocks until the session is free or ctx is done. On success it
// returns the device together with a release function that must be called
// once the operation is over. Calling release more than once is harmless.
func (s *Session) Acquire(ctx context.Context) (Service, func(), error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("acquire device session: %w", err)
	}

	log.Tracef("Device session acquired")

	return s.svc, s.releaseFunc(), nil
}

// TryAcquire is like Acquire but fails with ErrSessionBusy instead of
// waiting.
func (s *Session) TryAcquire() (Service, func(), error) {
	if !s.sem.TryAcquire(1) {
		return nil, nil, ErrSessionBusy
	}

	log.Tracef("Device session acquired")

	return s.svc, s.releaseFunc(), nil
}

func (s *Session) releaseFunc() func() {
	var once sync.Once

	return func() {
		once.Do(func() {
			s.sem.Release(1)
			log.Tracef("Device session released")
		})
	}
}
