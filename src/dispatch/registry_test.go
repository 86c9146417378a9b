package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
)

func messageEvent(id string) *models.CanonicalEvent {
	return &models.CanonicalEvent{ID: id, Kind: models.KindMessage}
}

func TestDispatch_FansOutToAllHandlers(t *testing.T) {
	r := NewRegistry()

	var calls int32
	for i := 0; i < 3; i++ {
		r.Subscribe(models.KindMessage, func(context.Context, *models.CanonicalEvent) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}
	r.Subscribe(models.KindStatus, func(context.Context, *models.CanonicalEvent) error {
		t.Error("status handler must not receive message events")
		return nil
	})

	err := r.Dispatch(context.Background(), messageEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDispatch_NoHandlersCompletes(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Dispatch(context.Background(), messageEvent("evt-1")))
}

func TestDispatch_OneFailureFailsAttempt(t *testing.T) {
	r := NewRegistry()

	var healthyRan int32
	r.Subscribe(models.KindMessage, func(context.Context, *models.CanonicalEvent) error {
		atomic.AddInt32(&healthyRan, 1)
		return nil
	})
	r.Subscribe(models.KindMessage, func(context.Context, *models.CanonicalEvent) error {
		return errors.New("crm sync failed")
	})

	err := r.Dispatch(context.Background(), messageEvent("evt-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm sync failed")
	assert.Equal(t, int32(1), atomic.LoadInt32(&healthyRan), "healthy handler still ran")
}

func TestDispatch_PanicIsContained(t *testing.T) {
	r := NewRegistry()

	var healthyRan int32
	r.Subscribe(models.KindMessage, func(context.Context, *models.CanonicalEvent) error {
		panic("handler bug")
	})
	r.Subscribe(models.KindMessage, func(context.Context, *models.CanonicalEvent) error {
		atomic.AddInt32(&healthyRan, 1)
		return nil
	})

	err := r.Dispatch(context.Background(), messageEvent("evt-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic")
	assert.Equal(t, int32(1), atomic.LoadInt32(&healthyRan))
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry()

	sub := r.Subscribe(models.KindMessage, func(context.Context, *models.CanonicalEvent) error {
		t.Error("unsubscribed handler must not run")
		return nil
	})
	assert.Equal(t, 1, r.HandlerCount(models.KindMessage))

	r.Unsubscribe(sub)
	assert.Equal(t, 0, r.HandlerCount(models.KindMessage))

	assert.NoError(t, r.Dispatch(context.Background(), messageEvent("evt-1")))
}
