package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// codeContent is the 2.05 Content response code (0x45); transport.Code
// only names request codes, but isResponse classifies by the top bits
// so any code >= 0x40 reads as a response here.
const codeContent Code = 0x45

func testEngine(t *testing.T) (*Engine, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	log := logrus.New().WithField("test", t.Name())
	eng := New(log, client, 1024, 4)
	return eng, server
}

func TestEngineSendNonConfirmableDoesNotQueue(t *testing.T) {
	eng, server := testEngine(t)
	drained := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		_, _ = server.Read(buf)
		close(drained)
	}()

	handle, err := eng.Send(&Message{Type: TypeNonConfirmable, Code: CodeGET}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, -1, handle)
	<-drained
	require.Equal(t, 0, eng.queue.Len())
}

func TestEngineSendConfirmableQueues(t *testing.T) {
	eng, server := testEngine(t)
	drained := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		_, _ = server.Read(buf)
		close(drained)
	}()

	handle, err := eng.Send(&Message{Type: TypeConfirmable, Code: CodePOST, Token: []byte{0x1}}, "arg", func(error, any, *Message) {})
	require.NoError(t, err)
	require.GreaterOrEqual(t, handle, 0)
	<-drained
	require.Equal(t, 1, eng.queue.Len())
}

func TestEngineSendRejectsOversizedMessage(t *testing.T) {
	eng, _ := testEngine(t)
	eng.mtu = 4
	_, err := eng.Send(&Message{Type: TypeNonConfirmable, Code: CodeGET, Payload: make([]byte, 64)}, nil, nil)
	require.Error(t, err)
}

func TestEngineRetransmitThenTimeout(t *testing.T) {
	eng, server := testEngine(t)
	reads := make(chan struct{}, maxRetransmits+1)
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
			reads <- struct{}{}
		}
	}()

	var gotErr error
	_, err := eng.Send(&Message{Type: TypeConfirmable, Code: CodePOST, Token: []byte{0x9}},
		nil, func(status error, _ any, _ *Message) { gotErr = status })
	require.NoError(t, err)
	<-reads // initial send

	now := time.Now()
	for i := 0; i <= maxRetransmits; i++ {
		now = now.Add(retransmitWindow)
		eng.RunRetransmitTimer(now)
		if i < maxRetransmits {
			<-reads
		}
	}

	require.Error(t, gotErr)
	require.Equal(t, 0, eng.queue.Len())
}

func TestEngineOnDatagramMatchesQueuedResponse(t *testing.T) {
	eng, _ := testEngine(t)
	called := make(chan *Message, 1)
	item := QueueItem{Token: []byte{0x7}, Buffer: []byte{0x40}, Callback: func(status error, _ any, resp *Message) {
		called <- resp
	}}
	_, err := eng.queue.Add(item)
	require.NoError(t, err)

	resp := &Message{Type: TypeAcknowledgement, Code: codeContent, Token: []byte{0x7}}
	buf, err := resp.Marshal()
	require.NoError(t, err)

	eng.OnDatagram(context.Background(), buf, nil)

	select {
	case got := <-called:
		require.Equal(t, []byte{0x7}, got.Token)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	require.Equal(t, 0, eng.queue.Len())
}

func TestEngineOnDatagramInvokesRequestHandler(t *testing.T) {
	eng, server := testEngine(t)
	eng.RegisterRequestHandler(func(_ context.Context, req *Message, _ net.Addr) *Message {
		return &Message{Type: TypeAcknowledgement, Code: codeContent}
	})

	req := &Message{Type: TypeConfirmable, Code: CodeGET, MID: 99}
	buf, err := req.Marshal()
	require.NoError(t, err)

	replied := make(chan []byte, 1)
	go func() {
		out := make([]byte, 256)
		n, _ := server.Read(out)
		replied <- out[:n]
	}()

	eng.OnDatagram(context.Background(), buf, nil)

	select {
	case raw := <-replied:
		resp, err := Unmarshal(raw)
		require.NoError(t, err)
		require.Equal(t, uint16(99), resp.MID)
	case <-time.After(time.Second):
		t.Fatal("no reply written")
	}
}

func TestEngineOnDatagramDropsDuplicateResponse(t *testing.T) {
	eng, _ := testEngine(t)
	resp := &Message{Type: TypeAcknowledgement, Code: codeContent, Token: []byte{0x3}}
	buf, err := resp.Marshal()
	require.NoError(t, err)

	// No matching queued item: OnDatagram must return without panicking.
	eng.OnDatagram(context.Background(), buf, nil)
}
