package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var exampleRun = UUIDToBytes(uuid.MustParse("0190f5c2-0000-7000-8000-000000000001"))

// ExampleHub_Emit tallies request outcomes the way the run summary does.
func ExampleHub_Emit() {
	outcomes := map[Stage]int{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchWait: time.Minute}, SinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage.IsTerminal() {
				outcomes[evt.Stage]++
			}
		}
		return nil
	}))

	ts := time.Unix(0, 0).UTC()
	hub.Emit(Event{RunID: exampleRun, TS: ts, Stage: StageRunStart})
	hub.Emit(Event{RunID: exampleRun, TS: ts, Stage: StageFetchStart, URL: "https://example.com/", Attempt: 1})
	hub.Emit(Event{RunID: exampleRun, TS: ts, Stage: StageDone, URL: "https://example.com/", Attempt: 1})
	hub.Emit(Event{RunID: exampleRun, TS: ts, Stage: StageDropped, URL: "https://example.com/gone", Attempt: 3, Note: "retries_exhausted"})
	hub.Emit(Event{RunID: exampleRun, TS: ts, Stage: StageRunDone})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("done=%d dropped=%d\n", outcomes[StageDone], outcomes[StageDropped])
	// Output:
	// done=1 dropped=1
}

// ExampleSinkFunc totals downloaded bytes per site.
func ExampleSinkFunc() {
	perSite := map[string]int64{}
	hub := NewHub(Config{MaxBatchEvents: 1}, SinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageFetchDone {
				perSite[evt.Site] += evt.Bytes
			}
		}
		return nil
	}))

	ts := time.Unix(0, 0).UTC()
	for _, size := range []int64{512, 1024} {
		hub.Emit(Event{
			RunID:      exampleRun,
			TS:         ts,
			Stage:      StageFetchDone,
			Site:       "example.com",
			URL:        "https://example.com/",
			StatusCode: 200,
			Bytes:      size,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("example.com: %d bytes\n", perSite["example.com"])
	// Output:
	// example.com: 1536 bytes
}
