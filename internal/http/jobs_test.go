package http

import (
	"errors"
	"testing"

	"github.com/nextlevelbuilder/capclaw/internal/topology"
)

func TestJobStore_CreateAndGet(t *testing.T) {
	js := newJobStore()

	job := js.Create("ospf everywhere")
	if job.ID == "" {
		t.Fatal("job has no id")
	}
	if job.State != JobRunning {
		t.Errorf("state = %q, want running", job.State)
	}

	got, ok := js.Get(job.ID)
	if !ok {
		t.Fatal("job not found")
	}
	if got.Goal != "ospf everywhere" {
		t.Errorf("goal = %q", got.Goal)
	}

	if _, ok := js.Get("missing"); ok {
		t.Error("expected miss for unknown id")
	}
}

func TestJobStore_EventsReachSubscribers(t *testing.T) {
	js := newJobStore()
	job := js.Create("goal")

	js.AppendEvent(job.ID, topology.StageEvent{Stage: topology.StageInitialOpenAI, Status: topology.StatusStarted})

	replay, live, cancel, ok := js.Subscribe(job.ID)
	if !ok {
		t.Fatal("subscribe failed")
	}
	defer cancel()

	if len(replay) != 1 {
		t.Fatalf("replay = %d events, want 1", len(replay))
	}
	if replay[0].Stage != topology.StageInitialOpenAI {
		t.Errorf("replay stage = %q", replay[0].Stage)
	}

	js.AppendEvent(job.ID, topology.StageEvent{Stage: topology.StageInitialGoogle, Status: topology.StatusStarted})
	ev := <-live
	if ev.Stage != topology.StageInitialGoogle {
		t.Errorf("live stage = %q", ev.Stage)
	}
}

func TestJobStore_FinishClosesSubscribers(t *testing.T) {
	js := newJobStore()
	job := js.Create("goal")

	_, live, cancel, _ := js.Subscribe(job.ID)
	defer cancel()

	js.Finish(job.ID, &topology.Result{Final: "cfg"}, nil)

	if _, open := <-live; open {
		t.Error("channel should be closed after finish")
	}

	got, _ := js.Get(job.ID)
	if got.State != JobDone {
		t.Errorf("state = %q, want done", got.State)
	}
	if got.Result == nil || got.Result.Final != "cfg" {
		t.Errorf("result = %+v", got.Result)
	}
}

func TestJobStore_FinishWithError(t *testing.T) {
	js := newJobStore()
	job := js.Create("goal")

	js.Finish(job.ID, nil, errors.New("synthesis: boom"))

	got, _ := js.Get(job.ID)
	if got.State != JobFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.Error != "synthesis: boom" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestJobStore_SubscribeFinishedJobReplaysAndCloses(t *testing.T) {
	js := newJobStore()
	job := js.Create("goal")
	js.AppendEvent(job.ID, topology.StageEvent{Stage: topology.StageSynthesis, Status: topology.StatusDone})
	js.Finish(job.ID, &topology.Result{Final: "cfg"}, nil)

	replay, live, cancel, ok := js.Subscribe(job.ID)
	if !ok {
		t.Fatal("subscribe failed")
	}
	defer cancel()

	if len(replay) != 1 {
		t.Errorf("replay = %d events, want 1", len(replay))
	}
	if _, open := <-live; open {
		t.Error("channel for a finished job should arrive closed")
	}
}

func TestJobStore_EvictsOldestFinished(t *testing.T) {
	js := newJobStore()

	first := js.Create("first")
	js.Finish(first.ID, &topology.Result{}, nil)

	for i := 1; i < maxRetainedJobs; i++ {
		js.Create("filler")
	}
	js.Create("overflow")

	if _, ok := js.Get(first.ID); ok {
		t.Error("oldest finished job should have been evicted")
	}
}
