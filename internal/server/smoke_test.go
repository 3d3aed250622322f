package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/s32kdev/go-flexcan/internal/can"
	"github.com/s32kdev/go-flexcan/internal/hub"
	"github.com/s32kdev/go-flexcan/internal/metrics"
	"github.com/s32kdev/go-flexcan/internal/wire"
)

const testHello = "FLEXCANBRIDGEv1"

// capture backend sends for verification
var (
	captured   []can.Frame
	capturedMu sync.Mutex
)

func dummySend(fr can.Frame) error {
	capturedMu.Lock()
	captured = append(captured, fr)
	capturedMu.Unlock()
	return nil
}

func resetCaptured() {
	capturedMu.Lock()
	captured = nil
	capturedMu.Unlock()
}

func capturedLen() int {
	capturedMu.Lock()
	defer capturedMu.Unlock()
	return len(captured)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// dialAndHandshake connects to addr and performs the hello exchange the
// server expects.
func dialAndHandshake(t testing.TB, ctx context.Context, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetDeadline(time.Now().Add(time.Second))
	if _, err := conn.Write([]byte(testHello)); err != nil {
		t.Fatalf("handshake write: %v", err)
	}
	buf := make([]byte, len(testHello))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("handshake read: %v", err)
	}
	if string(buf) != testHello {
		t.Fatalf("unexpected hello %q", string(buf))
	}
	_ = conn.SetDeadline(time.Time{})
	return conn
}

func TestSmokeServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resetCaptured()

	h := hub.New()
	srv := New(
		WithHub(h),
		WithCodec(&wire.Codec{}),
		WithSend(dummySend),
		WithHandshakeTimeout(2*time.Second),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatalf("server did not signal readiness")
	}

	conn := dialAndHandshake(t, ctx, srv.Addr())
	defer conn.Close()

	// Client -> server: one data frame id 0x123, payload {1,2,3}.
	codec := &wire.Codec{}
	fr, err := can.NewDataFrame(can.MustBaseID(0x123), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	if _, err := conn.Write(codec.Encode([]can.Frame{fr})); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && capturedLen() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	capturedMu.Lock()
	ok := len(captured) >= 1 && captured[0].ID.Value() == 0x123 && captured[0].Len == 3
	got := append([]can.Frame(nil), captured...)
	capturedMu.Unlock()
	if !ok {
		t.Fatalf("expected captured frame, got %#v", got)
	}

	// Server -> client: broadcast a frame and decode it off the socket.
	bcast, _ := can.NewDataFrame(can.MustBaseID(0x456), []byte{9, 8})
	srv.Hub.Broadcast(bcast)

	var acc bytes.Buffer
	readDeadline := time.Now().Add(300 * time.Millisecond)
	tmp := make([]byte, 64)
	for time.Now().Before(readDeadline) && acc.Len() < 7 {
		_ = conn.SetReadDeadline(time.Now().Add(40 * time.Millisecond))
		n, err := conn.Read(tmp)
		if n > 0 {
			acc.Write(tmp[:n])
		}
		if err != nil && !isTimeout(err) {
			t.Fatalf("read broadcast: %v", err)
		}
	}
	dec, err := codec.Decode(bytes.NewReader(acc.Bytes()))
	if err != nil {
		t.Fatalf("decode broadcast: %v (bytes=%d)", err, acc.Len())
	}
	if dec.ID.Value() != 0x456 || dec.Len != 2 || dec.Data[0] != 9 {
		t.Fatalf("broadcast mismatch: %v", dec)
	}
}

func TestSmokeBatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resetCaptured()

	h := hub.New()
	srv := New(WithHub(h), WithCodec(&wire.Codec{}), WithSend(dummySend))
	go srv.Serve(ctx)
	<-srv.Ready()

	c1 := dialAndHandshake(t, ctx, srv.Addr())
	defer c1.Close()

	regDeadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(regDeadline) && h.Count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	// Exactly one batch threshold worth of frames forces an immediate flush.
	for i := 0; i < defaultBatchSize; i++ {
		fr, _ := can.NewDataFrame(can.MustBaseID(uint32(0x700+(i%32))), []byte{byte(i)})
		srv.Hub.Broadcast(fr)
	}

	var buf bytes.Buffer
	deadline := time.Now().Add(400 * time.Millisecond)
	tmp := make([]byte, 256)
	for time.Now().Before(deadline) && buf.Len() < defaultBatchSize*6 {
		_ = c1.SetReadDeadline(time.Now().Add(80 * time.Millisecond))
		n, err := c1.Read(tmp)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil && !isTimeout(err) {
			break
		}
	}
	if buf.Len() < 30 {
		t.Fatalf("insufficient batch bytes collected: %d", buf.Len())
	}

	codec := &wire.Codec{}
	r := bytes.NewReader(buf.Bytes())
	decoded := 0
	for {
		fr, err := codec.Decode(r)
		if err != nil {
			break
		}
		if fr.ID.Value() < 0x700 || fr.ID.Value() >= 0x720 {
			t.Fatalf("unexpected frame id 0x%X", fr.ID.Value())
		}
		decoded++
	}
	if decoded < 2 {
		t.Fatalf("expected multiple frames, got %d (total bytes=%d)", decoded, buf.Len())
	}
}

func TestSmokeBackpressureDrop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := hub.New()
	h.OutBufSize = 1
	h.Policy = hub.PolicyDrop
	srv := New(WithHub(h), WithCodec(&wire.Codec{}), WithSend(dummySend))
	go srv.Serve(ctx)
	<-srv.Ready()
	c1 := dialAndHandshake(t, ctx, srv.Addr())
	defer c1.Close()

	for i := 0; i < 5; i++ {
		srv.Hub.Broadcast(can.Frame{ID: can.MustBaseID(0x100)})
	}
	// Client stays connected under drop policy.
	_ = c1.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	one := make([]byte, 32)
	_, _ = c1.Read(one)
	_ = c1.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	tmp := make([]byte, 8)
	if _, err := c1.Read(tmp); err == io.EOF {
		t.Fatalf("connection closed unexpectedly under drop policy")
	}
}

func TestSmokeBackpressureKick(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := hub.New()
	h.OutBufSize = 1
	h.Policy = hub.PolicyKick
	srv := New(WithHub(h), WithCodec(&wire.Codec{}), WithSend(dummySend))
	go srv.Serve(ctx)
	<-srv.Ready()
	c1 := dialAndHandshake(t, ctx, srv.Addr())
	defer c1.Close()

	// Never read from c1, so the hub overflows and kicks.
	for i := 0; i < 10; i++ {
		srv.Hub.Broadcast(can.Frame{ID: can.MustBaseID(0x200)})
		time.Sleep(2 * time.Millisecond)
	}
	_ = c1.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 16)
	if _, err := c1.Read(buf); err == nil {
		t.Logf("kick policy: client not yet closed (data received)")
	} else if isTimeout(err) {
		t.Logf("kick policy: timeout waiting for closure (may be timing-sensitive)")
	}
}

func TestSmokeMetrics(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resetCaptured()

	h := hub.New()
	h.OutBufSize = 1
	h.Policy = hub.PolicyDrop
	srv := New(WithHub(h), WithCodec(&wire.Codec{}), WithSend(dummySend))
	go srv.Serve(ctx)
	<-srv.Ready()

	pre := metrics.Snap()
	c := dialAndHandshake(t, ctx, srv.Addr())
	defer c.Close()

	codec := &wire.Codec{}
	for i := 0; i < 3; i++ {
		fr, _ := can.NewDataFrame(can.MustBaseID(uint32(0x100+i)), []byte{byte(i)})
		if _, err := c.Write(codec.Encode([]can.Frame{fr})); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		srv.Hub.Broadcast(can.Frame{ID: can.MustBaseID(uint32(0x300 + i))})
	}

	buf := make([]byte, 32)
	readDeadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(readDeadline) {
		_ = c.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		if n, err := c.Read(buf); n > 0 || (err != nil && !isTimeout(err)) {
			break
		}
	}
	postWait := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(postWait) {
		d := metrics.Snap()
		if d.TCPTx > pre.TCPTx && d.TCPRx-pre.TCPRx >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	post := metrics.Snap()

	if d := post.TCPRx - pre.TCPRx; d < 3 {
		t.Fatalf("expected >=3 TCPRx delta, got %d", d)
	}
	if post.TCPTx == pre.TCPTx {
		t.Fatalf("expected TCPTx delta >0")
	}
	if post.HubDrops < pre.HubDrops {
		t.Fatalf("hub drops decreased pre=%d post=%d", pre.HubDrops, post.HubDrops)
	}
}

func TestSmokeBackendOverflowAndHandshakeError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := hub.New()
	srv := New(WithHub(h), WithCodec(&wire.Codec{}), WithSend(dummySend), WithHandshakeTimeout(100*time.Millisecond))
	go srv.Serve(ctx)
	<-srv.Ready()

	pre := metrics.Snap()

	// A raw connection that closes without the hello bumps the handshake
	// error counter.
	raw, err := net.DialTimeout("tcp", srv.Addr(), 500*time.Millisecond)
	if err != nil {
		t.Fatalf("dial raw: %v", err)
	}
	_ = raw.Close()

	errDeadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(errDeadline) {
		if metrics.Snap().Errors > pre.Errors {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if post := metrics.Snap(); post.Errors <= pre.Errors {
		t.Fatalf("expected error counter to increase (pre=%d post=%d)", pre.Errors, post.Errors)
	}
}

func TestSmokeMalformedFrame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := hub.New()
	srv := New(WithHub(h), WithCodec(&wire.Codec{}), WithSend(dummySend))
	go srv.Serve(ctx)
	<-srv.Ready()
	c := dialAndHandshake(t, ctx, srv.Addr())
	defer c.Close()

	pre := metrics.Snap()
	// id 0x111, length byte 9: the decoder rejects before reading payload.
	bad := []byte{0x00, 0x00, 0x01, 0x11, 9}
	if _, err := c.Write(bad); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	malDeadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(malDeadline) {
		if metrics.Snap().Malformed > pre.Malformed {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	post := metrics.Snap()
	if post.Malformed <= pre.Malformed {
		t.Fatalf("expected malformed counter to increase")
	}
	// The server drops the connection after a decode error.
	_ = c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 8)
	if _, err := c.Read(buf); err == nil {
		t.Logf("connection still open after malformed frame (close may lag)")
	}
}

func TestSmokeShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := hub.New()
	srv := New(WithHub(h), WithCodec(&wire.Codec{}), WithSend(dummySend))
	go srv.Serve(ctx)
	<-srv.Ready()

	c := dialAndHandshake(t, ctx, srv.Addr())
	defer c.Close()

	shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	// The client socket is closed by shutdown.
	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 8)
	if _, err := c.Read(buf); err == nil {
		t.Fatalf("expected connection closed after shutdown")
	}
}
