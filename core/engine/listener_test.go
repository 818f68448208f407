//go:build linux

package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	terrr "github.com/touka-aoi/low-level-relay/core/errors"
)

func TestListenAndAcceptOne(t *testing.T) {
	ctx := context.Background()
	l, err := Listen(ctx, "127.0.0.1", 0, 16)
	require.NoError(t, err)
	defer l.Close()

	require.NotZero(t, l.Addr().Port(), "expected kernel-assigned port")

	_, _, err = l.AcceptOne()
	require.ErrorIs(t, err, terrr.ErrWouldBlock)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	p, err := NewPoller(PollerEpoll)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Add(l.Fd()))

	ready := waitReady(t, p, time.Second)
	require.True(t, ready.Get(l.Fd()).Readable(), "listener not readable with a pending connection")

	s, remote, err := l.AcceptOne()
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, conn.LocalAddr().String(), remote.String())
}

func TestListenBindFailure(t *testing.T) {
	ctx := context.Background()
	first, err := Listen(ctx, "127.0.0.1", 0, 16)
	require.NoError(t, err)
	defer first.Close()

	_, err = Listen(ctx, "127.0.0.1", first.Addr().Port(), 16)
	assert.ErrorIs(t, err, terrr.ErrBindFailure)
}
