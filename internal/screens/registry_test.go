package screens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry[string](Status)
	r.MustRegister(Status, func() string { return "status view" })
	r.MustRegister(Listen, func() string { return "listen view" })

	v, err := r.Resolve(Listen)
	require.NoError(t, err)
	assert.Equal(t, "listen view", v)

	v, err = r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "status view", v)

	_, err = r.Resolve(Speak)
	assert.ErrorIs(t, err, ErrUnknownScreen)

	assert.ErrorIs(t, r.Register(Listen, func() string { return "" }), ErrDuplicateScreen)
	assert.Panics(t, func() { r.MustRegister(Status, func() string { return "" }) })

	assert.True(t, r.Has(Status))
	assert.False(t, r.Has(Queue))
	assert.Equal(t, []ID{Listen, Status}, r.IDs())
}

func TestResolveBuildsFreshValues(t *testing.T) {
	type view struct{ n int }
	count := 0
	r := NewRegistry[*view](Status)
	r.MustRegister(Status, func() *view { count++; return &view{n: count} })

	a, _ := r.Resolve(Status)
	b, _ := r.Resolve(Status)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, b.n)
}
