package mqtt

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/hollowpine/tidewatch/internal/zone"
)

type stubZones struct{}

func (stubZones) Names() []string               { return nil }
func (stubZones) Get(string) (*zone.Zone, bool) { return nil, false }

func testPublisher() *Publisher {
	return New(testMQTTConfig(), stubZones{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublisher_NoOpsBeforeConnect(t *testing.T) {
	p := testPublisher()
	ctx := context.Background()

	// None of these may panic or publish while no connection exists.
	p.PublishZone(ctx, "Living Room")
	p.publishAllStates(ctx)
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop before connect: %v", err)
	}
}

func TestPublisher_ConcurrentPublishAndShutdown(t *testing.T) {
	// Zone listeners push state from check goroutines while the Start
	// goroutine installs the connection and shutdown tears it down.
	// Exercises the connection handoff under the race detector.
	p := testPublisher()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.PublishZone(ctx, "Living Room")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			p.cm.Store(nil)
			_ = p.Stop(ctx)
		}
	}()
	wg.Wait()
}
