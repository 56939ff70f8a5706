package task

import (
	"testing"
	"time"

	"github.com/modera/mfcloud/bus"
	"github.com/modera/mfcloud/manifest"
)

func TestClampWait_EnforcesBounds(t *testing.T) {
	cases := []struct {
		in   float64
		want time.Duration
	}{
		{0, time.Duration(waitLowerBound * float64(time.Second))},
		{0.05, time.Duration(waitLowerBound * float64(time.Second))},
		{5, 5 * time.Second},
		{10000, waitUpperBound * time.Second},
	}
	for _, c := range cases {
		if got := clampWait(c.in, 1); got != c.want {
			t.Errorf("clampWait(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseSecondsSuffix(t *testing.T) {
	secs, ok := parseSecondsSuffix("3.5s")
	if !ok || secs != 3.5 {
		t.Fatalf("got %v, %v", secs, ok)
	}
	if _, ok := parseSecondsSuffix("3.5"); ok {
		t.Fatal("expected no match without trailing s")
	}
	if _, ok := parseSecondsSuffix("nope"); ok {
		t.Fatal("expected no match for non-numeric")
	}
}

func TestSleepAfterReady_HonorsInPayload(t *testing.T) {
	start := time.Now()
	sleepAfterReady([]string{"in", "0.01s"})
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("expected a short sleep, took %v", elapsed)
	}
}

func TestHandleLogChunk_DropsEightByteHeaderFrame(t *testing.T) {
	e := &Engine{Bus: bus.New()}
	svc := &manifest.Service{Name: "web", App: "myapp"}

	var progressed []string
	unsub := e.Bus.On(progressChannel(1), func(_ string, payload any) {
		if s, ok := payload.(string); ok {
			progressed = append(progressed, s)
		}
	})
	defer unsub()

	header := []byte{1, 0, 0, 0, 0, 0, 0, 12}
	e.handleLogChunk(1, svc, header)
	if len(progressed) != 0 {
		t.Fatalf("expected 8-byte header frame to be dropped, got %v", progressed)
	}

	e.handleLogChunk(1, svc, []byte("hello\n"))
	if len(progressed) != 1 || progressed[0] != "hello" {
		t.Fatalf("expected forwarded progress line, got %v", progressed)
	}
}

func TestHandleLogChunk_FiresReadyEventOnMarker(t *testing.T) {
	e := &Engine{Bus: bus.New()}
	svc := &manifest.Service{Name: "web", App: "myapp"}

	var fired any
	unsub := e.Bus.On(apiReadyChannel(svc.Qualified()), func(_ string, payload any) {
		fired = payload
	})
	defer unsub()

	e.handleLogChunk(1, svc, []byte("@mcloud ready in 2 seconds\n"))
	pair, ok := fired.([]string)
	if !ok || len(pair) != 2 || pair[0] != "2" || pair[1] != "seconds" {
		t.Fatalf("got %v", fired)
	}
}
