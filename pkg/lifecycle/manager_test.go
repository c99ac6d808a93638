package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/hotworker/pkg/events"
	"github.com/cuemby/hotworker/pkg/types"
)

func TestAdaptTaskFuncPassesContextAndPayloadThrough(t *testing.T) {
	var gotPayload []byte
	fn := types.TaskFunc(func(ctx types.TaskContext, payload []byte) ([]byte, error) {
		gotPayload = payload
		return append([]byte("echo:"), payload...), nil
	})

	adapted := adaptTaskFunc(fn)
	out, err := adapted(context.Background(), []byte("hello"))

	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), gotPayload)
	assert.Equal(t, []byte("echo:hello"), out)
}

func TestManagerStartsAtEpochZeroAndNotRunning(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	m := &Manager{broker: broker}

	assert.False(t, m.IsRunning())
	assert.Equal(t, int64(0), m.Epoch())
	assert.Equal(t, types.RegistrationSet{}, m.GetCurrentRegistration())
}
