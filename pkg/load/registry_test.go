package load

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/hotworker/pkg/types"
)

type fakeContainer struct {
	generation int64
	artifactID string
	regs       types.RegistrationSet
	unloaded   bool
}

func (f *fakeContainer) Generation() int64                   { return f.generation }
func (f *fakeContainer) ArtifactID() string                  { return f.artifactID }
func (f *fakeContainer) Registrations() types.RegistrationSet { return f.regs }
func (f *fakeContainer) Unload()                              { f.unloaded = true }

func TestArtifactRegistryMergedWithFallback(t *testing.T) {
	tests := []struct {
		name             string
		containers       map[types.ArtifactKey]CodeContainer
		expectedBaseline bool
	}{
		{
			name:             "empty registry falls back to baseline",
			containers:       map[types.ArtifactKey]CodeContainer{},
			expectedBaseline: true,
		},
		{
			name: "populated registry uses merged set",
			containers: map[types.ArtifactKey]CodeContainer{
				{ID: "a", Version: "1"}: &fakeContainer{regs: regSetWithTask("greet")},
			},
			expectedBaseline: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewArtifactRegistry()
			for k, c := range tt.containers {
				r.Put(k, c)
			}

			baseline := regSetWithTask("baseline")
			regs, usingBaseline := r.MergedWithFallback(baseline)

			assert.Equal(t, tt.expectedBaseline, usingBaseline)
			if tt.expectedBaseline {
				assert.Equal(t, baseline, regs)
			}
		})
	}
}

func TestArtifactRegistryPutUnloadsPrevious(t *testing.T) {
	r := NewArtifactRegistry()
	key := types.ArtifactKey{ID: "payments", Version: "1"}

	first := &fakeContainer{regs: regSetWithTask("v1")}
	second := &fakeContainer{regs: regSetWithTask("v2")}

	r.Put(key, first)
	r.Put(key, second)

	assert.True(t, first.unloaded, "replaced container should be unloaded")
	assert.False(t, second.unloaded, "current container should remain loaded")
	assert.Equal(t, 1, r.Len())
}

func TestArtifactRegistryRemove(t *testing.T) {
	r := NewArtifactRegistry()
	key := types.ArtifactKey{ID: "payments", Version: "1"}
	c := &fakeContainer{regs: regSetWithTask("v1")}

	r.Put(key, c)
	r.Remove(key)

	assert.True(t, c.unloaded)
	assert.Equal(t, 0, r.Len())
}

func regSetWithTask(name string) types.RegistrationSet {
	s := types.NewRegistrationSet()
	s.Tasks[name] = types.TaskHandle{Name: name}
	return s
}
