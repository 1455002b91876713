// Package syncutil provides the lock that serializes protocol transactions.
package syncutil

import "context"

// TxLock is a mutex implemented with a one-slot channel so that waiters can
// give up when their context is cancelled. The zero value is not usable; use
// NewTxLock.
type TxLock struct {
	ch chan struct{}
}

// NewTxLock returns an unlocked TxLock.
func NewTxLock() *TxLock {
	l := &TxLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// LockContext waits for the lock or for ctx to end. On success the caller
// must call the returned unlock function exactly once.
func (l *TxLock) LockContext(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-l.ch:
		return func() { l.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock takes the lock only if it is free.
func (l *TxLock) TryLock() (func(), bool) {
	select {
	case <-l.ch:
		return func() { l.ch <- struct{}{} }, true
	default:
		return nil, false
	}
}
