package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/mjpegview/internal/certs"
)

// startQUICServer accepts one connection, reads the control message, writes
// the segments and finishes the stream.
func startQUICServer(t *testing.T, segments [][]byte, control chan<- string) (addr string, cert *certs.CertInfo) {
	t.Helper()
	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("certs.Generate: %v", err)
	}
	ln, err := quic.ListenAddr("127.0.0.1:0", cert.ServerTLSConfig(ALPN), nil)
	if err != nil {
		t.Fatalf("quic.ListenAddr: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		ctx := context.Background()
		conn, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		str, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		qc := NewQUICConn(conn, str, 0)
		msg, err := qc.Receive(ctx)
		if err != nil {
			return
		}
		u, _ := ParseControlMessage(msg)
		control <- u
		for _, seg := range segments {
			if err := qc.Send(ctx, Message{Type: MessageBinary, Data: seg}); err != nil {
				return
			}
		}
		str.Close()
	}()

	return ln.Addr().String(), cert
}

func TestQUICConn(t *testing.T) {
	t.Parallel()

	segments := [][]byte{{0xFF, 0xD8}, {0x01, 0x02, 0xFF, 0xD9}}
	control := make(chan string, 1)
	addr, cert := startQUICServer(t, segments, control)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mux := NewMux(Options{CertHash: cert.FingerprintBase64()})
	conn, err := mux.Dial(ctx, "quic://"+addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, ControlMessage("rtsp://cam/2")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-control:
		if got != "rtsp://cam/2" {
			t.Fatalf("server got url %q", got)
		}
	case <-ctx.Done():
		t.Fatal("server never received the control message")
	}

	for i, want := range segments {
		msg, err := conn.Receive(ctx)
		if err != nil {
			t.Fatalf("segment %d: Receive: %v", i, err)
		}
		if msg.Type != MessageBinary || !bytes.Equal(msg.Data, want) {
			t.Fatalf("segment %d = %v % X, want binary % X", i, msg.Type, msg.Data, want)
		}
	}

	if _, err := conn.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Receive after stream end = %v, want io.EOF", err)
	}
}

func TestQUICCertHashMismatch(t *testing.T) {
	t.Parallel()

	addr, _ := startQUICServer(t, nil, make(chan string, 1))
	other, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("certs.Generate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := &QUICDialer{CertHash: other.FingerprintBase64()}
	if _, err := d.Dial(ctx, "quic://"+addr); err == nil {
		t.Fatal("Dial succeeded with the wrong pinned certificate")
	}
}

func TestQUICInvalidCertHash(t *testing.T) {
	t.Parallel()

	d := &QUICDialer{CertHash: "not base64!"}
	if _, err := d.Dial(context.Background(), "quic://127.0.0.1:1"); err == nil {
		t.Fatal("Dial succeeded with an undecodable cert hash")
	}
}
