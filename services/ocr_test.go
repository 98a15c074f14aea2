package services

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

type fakeEngine struct {
	calls int32
	text  string
	err   error
	delay time.Duration
}

func (e *fakeEngine) Extract(ctx context.Context, img []byte) (string, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return e.text, e.err
}

func TestOCRPipelineExtract(t *testing.T) {
	engine := &fakeEngine{text: "Total: $42.00"}
	pipeline := NewOCRPipeline(engine, time.Second, 0)

	text, err := pipeline.ExtractText(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Total: $42.00" {
		t.Errorf("text = %q, want %q", text, "Total: $42.00")
	}
}

func TestOCRPipelineRejectsOversizedImage(t *testing.T) {
	engine := &fakeEngine{}
	pipeline := NewOCRPipeline(engine, time.Second, 10)

	_, err := pipeline.ExtractText(context.Background(), testImage(t))
	if !IsKind(err, KindImageTooLarge) {
		t.Fatalf("error = %v, want kind %s", err, KindImageTooLarge)
	}
	if n := atomic.LoadInt32(&engine.calls); n != 0 {
		t.Errorf("engine called %d times for oversized image, want 0", n)
	}
}

func TestOCRPipelineRejectsUndecodableImage(t *testing.T) {
	engine := &fakeEngine{}
	pipeline := NewOCRPipeline(engine, time.Second, 0)

	_, err := pipeline.ExtractText(context.Background(), []byte("not an image"))
	if !IsKind(err, KindOCRDecode) {
		t.Fatalf("error = %v, want kind %s", err, KindOCRDecode)
	}
	if n := atomic.LoadInt32(&engine.calls); n != 0 {
		t.Errorf("engine called %d times for undecodable image, want 0", n)
	}
}

func TestOCRPipelineRetriesOnceOnTimeout(t *testing.T) {
	engine := &fakeEngine{delay: time.Second}
	pipeline := NewOCRPipeline(engine, 20*time.Millisecond, 0)

	_, err := pipeline.ExtractText(context.Background(), testImage(t))
	if !IsKind(err, KindOCRTimeout) {
		t.Fatalf("error = %v, want kind %s", err, KindOCRTimeout)
	}
	if n := atomic.LoadInt32(&engine.calls); n != 2 {
		t.Errorf("engine called %d times, want 2 (one retry)", n)
	}
}

func TestOCRPipelineNoRetryOnEngineError(t *testing.T) {
	engine := &fakeEngine{err: errStub("engine exploded")}
	pipeline := NewOCRPipeline(engine, time.Second, 0)

	_, err := pipeline.ExtractText(context.Background(), testImage(t))
	if !IsKind(err, KindOCREngine) {
		t.Fatalf("error = %v, want kind %s", err, KindOCREngine)
	}
	if n := atomic.LoadInt32(&engine.calls); n != 1 {
		t.Errorf("engine called %d times, want 1 (no retry on hard failure)", n)
	}
	if !strings.Contains(err.Error(), "engine exploded") {
		t.Errorf("error %q does not wrap the cause", err)
	}
}

type errStub string

func (e errStub) Error() string { return string(e) }
