package gatt

import (
	"testing"
	"time"

	"github.com/dk731/go-bluedroid/hoststack"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l.WithField("test", true)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRouterAwaitDeliversDispatchedEvent(t *testing.T) {
	r := newRouter[GattsEvent](discardLogger())

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.dispatch(hoststack.EventAppRegistered, GattsEvent{RawEvent: hoststack.RawEvent{
			Kind:  hoststack.EventAppRegistered,
			AppID: 3,
		}})
	}()

	ev, err := await(r, hoststack.EventAppRegistered, func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, uint16(3), ev.AppID)
}

func TestRouterAwaitTimesOutWithNoDispatch(t *testing.T) {
	r := newRouter[GattsEvent](discardLogger())

	_, err := awaitWithTimeout(r, hoststack.EventAppRegistered, func() error { return nil }, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRouterRemovesWaiterAfterAwaitReturns(t *testing.T) {
	r := newRouter[GattsEvent](discardLogger())
	_, _ = awaitWithTimeout(r, hoststack.EventAppRegistered, func() error { return nil }, 5*time.Millisecond)

	r.mu.RLock()
	_, exists := r.waiters[hoststack.EventAppRegistered]
	r.mu.RUnlock()
	assert.False(t, exists, "waiter must be removed after await returns, even on timeout")
}

func TestRouterSerializesConcurrentAwaitsOfSameKind(t *testing.T) {
	r := newRouter[GattsEvent](discardLogger())

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func(n int) {
			_, _ = awaitWithTimeout(r, hoststack.EventConfirm, func() error {
				time.Sleep(10 * time.Millisecond)
				r.dispatch(hoststack.EventConfirm, GattsEvent{RawEvent: hoststack.RawEvent{Kind: hoststack.EventConfirm, AttrHandle: uint16(n)}})
				return nil
			}, 200*time.Millisecond)
			done <- struct{}{}
		}(i)
	}

	<-done
	<-done
}

// awaitWithTimeout is a test helper mirroring await but with a
// caller-supplied timeout, so tests don't have to wait correlationTimeout
// out in full.
func awaitWithTimeout[E any](r *router[E], kind hoststack.EventKind, do func() error, timeout time.Duration) (E, error) {
	r.callMu.Lock()
	defer r.callMu.Unlock()

	var zero E
	ch, err := r.install(kind)
	if err != nil {
		return zero, err
	}
	defer r.remove(kind)

	if err := do(); err != nil {
		return zero, err
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-time.After(timeout):
		return zero, ErrTimeout
	}
}
