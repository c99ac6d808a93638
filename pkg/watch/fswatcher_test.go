package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/hotworker/pkg/types"
)

func TestFSWatcherMatchesFilter(t *testing.T) {
	out := make(chan types.Artifact, 1)
	w, err := NewFSWatcher(nil, "*.zip", 0, out)
	assert.NoError(t, err)
	defer w.Stop()

	assert.True(t, w.matches("/plugins/payments-1.2.3.zip"))
	assert.False(t, w.matches("/plugins/readme.txt"))
	assert.False(t, w.matches("/plugins/.zip-swap-file"))
}
