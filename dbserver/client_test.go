package dbserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeServer accepts one connection and answers SETUP_REQ plus whatever
// canned responses the test queues up.
func fakeServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	return ln.Addr().String()
}

func TestDialPerformsSetup(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		req, err := ReadMessage(conn)
		require.NoError(t, err)
		require.Equal(t, SetupReq, req.Type)

		resp := &Message{Transaction: req.Transaction, Type: MenuAvailable}
		require.NoError(t, resp.Write(conn))

		// Keep the connection open for the test's Close() call.
		buf := make([]byte, 1)
		conn.Read(buf)
	})

	client, err := Dial(addr, 2, 1, time.Second)
	require.NoError(t, err)
	defer client.Close()

	require.Equal(t, 2, client.TargetPlayer)
	require.Equal(t, 1, client.PosingAsPlayer)
}

func TestRenderMenuItemsCollectsFiveItems(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		setup, err := ReadMessage(conn)
		require.NoError(t, err)
		require.NoError(t, (&Message{Transaction: setup.Transaction, Type: MenuAvailable}).Write(conn))

		render, err := ReadMessage(conn)
		require.NoError(t, err)
		require.Equal(t, RenderMenuReq, render.Type)

		require.NoError(t, (&Message{Transaction: render.Transaction, Type: MenuHeader}).Write(conn))
		for i := 0; i < 5; i++ {
			item := &Message{
				Transaction: render.Transaction,
				Type:        MenuItem,
				Arguments:   []Field{NewNumberField(uint32(i))},
			}
			require.NoError(t, item.Write(conn))
		}
		require.NoError(t, (&Message{Transaction: render.Transaction, Type: MenuFooter}).Write(conn))
	})

	client, err := Dial(addr, 2, 1, time.Second)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	items, err := client.renderMenuItems(ctx, 5)
	require.NoError(t, err)
	require.Len(t, items, 5)
}
