package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, 0)

	var order []string
	sm.Register("db", func(context.Context) error { order = append(order, "db"); return nil })
	sm.Register("cache", func(context.Context) error { order = append(order, "cache"); return nil })
	sm.Register("cron", func(context.Context) error { order = append(order, "cron"); return errors.New("stuck") })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sm.Shutdown(ctx)

	assert.Equal(t, []string{"cron", "cache", "db"}, order)
	assert.ErrorContains(t, err, "cron: stuck")
}
