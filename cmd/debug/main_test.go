package main

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPumpKeepsReceivingAfterInputEnds(t *testing.T) {
	client, relay := net.Pipe()
	defer relay.Close()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- pump(context.Background(), client, strings.NewReader("hello\n"), &out)
	}()

	line, err := bufio.NewReader(relay).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	// 入力が尽きた後でも届いたデータは出力される
	_, err = relay.Write([]byte("from another peer"))
	require.NoError(t, err)
	relay.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "pump did not return after the relay closed")
	}
	assert.Equal(t, "from another peer", out.String())
}

func TestPumpStopsOnCancel(t *testing.T) {
	client, relay := net.Pipe()
	defer relay.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pump(ctx, client, strings.NewReader(""), &bytes.Buffer{})
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "pump did not return after cancel")
	}
}
