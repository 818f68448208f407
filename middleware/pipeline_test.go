package middleware

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct{ fd int32 }

func (f fakeSource) Fd() int32                  { return f.fd }
func (f fakeSource) RemoteAddr() netip.AddrPort { return netip.MustParseAddrPort("127.0.0.1:9") }
func (f fakeSource) Status() string             { return "active" }

func TestPipelineOrder(t *testing.T) {
	var order []string
	record := func(name string) MiddlewareFunc {
		return func(ctx *Context, next NextFunc) error {
			order = append(order, name+"-in")
			err := next(ctx)
			order = append(order, name+"-out")
			return err
		}
	}

	p := NewPipeline().Use(record("a")).Use(record("b"))
	require.NoError(t, p.Execute(NewContext([]byte("x"), fakeSource{fd: 4})))

	assert.Equal(t, []string{"a-in", "b-in", "b-out", "a-out"}, order)
	assert.Equal(t, 2, p.Len())
}

func TestPipelineShortCircuit(t *testing.T) {
	errDrop := errors.New("drop")
	called := false
	p := NewPipeline().
		Use(func(ctx *Context, next NextFunc) error { return errDrop }).
		Use(func(ctx *Context, next NextFunc) error { called = true; return next(ctx) })

	require.ErrorIs(t, p.Execute(NewContext(nil, fakeSource{})), errDrop)
	assert.False(t, called, "second middleware ran after short circuit")
}

func TestNewContextCarriesSource(t *testing.T) {
	ctx := NewContext([]byte("abc"), fakeSource{fd: 9})
	assert.Equal(t, int32(9), ctx.Fd)
	assert.Equal(t, []byte("abc"), ctx.Data)
	assert.Equal(t, "active", ctx.Source.Status())
}

func TestStatsMiddleware(t *testing.T) {
	var stats Stats
	p := NewPipeline().Use(Logging()).Use(stats.Middleware())

	for _, data := range []string{"hello", "", "abc"} {
		require.NoError(t, p.Execute(NewContext([]byte(data), fakeSource{fd: 5})))
	}

	assert.Equal(t, uint64(3), stats.Reads)
	assert.Equal(t, uint64(8), stats.BytesIn)
}
