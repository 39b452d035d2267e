package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJobs_RegisterAndStatus(t *testing.T) {
	jobs := NewJobs(time.Minute)

	j, err := jobs.register("/drop/a/sales.csv", 990)
	if err != nil {
		t.Fatalf("register() error = %v", err)
	}
	st, err := jobs.GetStatus("sales.csv")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.Stage != StageStarting || st.BatchSize != 990 || st.RunID == "" {
		t.Errorf("status = %+v", st)
	}
	if st.Percent != -1 {
		t.Errorf("Percent = %d, want -1 for unknown total", st.Percent)
	}

	j.update(func(s *JobStatus) {
		s.Total = 200
		s.Inserted = 50
	})
	if st, _ := jobs.GetStatus("sales.csv"); st.Percent != 25 {
		t.Errorf("Percent = %d, want 25", st.Percent)
	}

	if _, err := jobs.GetStatus("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetStatus(unknown) error = %v", err)
	}
}

func TestJobs_KeyCollision(t *testing.T) {
	jobs := NewJobs(time.Minute)

	if _, err := jobs.register("/drop/x/sales.csv", 10); err != nil {
		t.Fatal(err)
	}
	if _, err := jobs.register("/drop/x/sales.csv", 10); !errors.Is(err, ErrJobActive) {
		t.Errorf("same path error = %v, want ErrJobActive", err)
	}

	j2, err := jobs.register("/drop/y/sales.csv", 10)
	if err != nil {
		t.Fatalf("other path register() error = %v", err)
	}
	key := j2.snapshot().Key
	if key == "sales.csv" || !strings.HasPrefix(key, "sales.csv-") {
		t.Errorf("collision key = %q", key)
	}
}

func TestJobs_RequestCancel(t *testing.T) {
	jobs := NewJobs(time.Minute)
	j, _ := jobs.register("/drop/a.csv", 10)

	if jobs.RequestCancel("missing") {
		t.Error("RequestCancel(unknown) = true")
	}
	if !jobs.RequestCancel("a.csv") {
		t.Fatal("RequestCancel() = false for running job")
	}
	if !j.canceled.Load() {
		t.Error("cancel flag not set")
	}

	j.update(func(s *JobStatus) { s.Done = true; s.Stage = StageCanceled })
	j.finish()
	if jobs.RequestCancel("a.csv") {
		t.Error("RequestCancel() = true for finished job")
	}
}

func TestJobs_SubscribeAndWait(t *testing.T) {
	jobs := NewJobs(time.Minute)
	j, _ := jobs.register("/drop/a.csv", 10)

	ch, err := jobs.Subscribe("a.csv")
	if err != nil {
		t.Fatal(err)
	}
	if first := <-ch; first.Stage != StageStarting {
		t.Errorf("first update = %+v", first)
	}

	go func() {
		j.update(func(s *JobStatus) { s.Stage = StageInserting; s.Inserted = 10 })
		j.update(func(s *JobStatus) { s.Stage = StageDone; s.Done = true })
		j.finish()
	}()

	st, err := jobs.Wait(context.Background(), "a.csv")
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if st.Stage != StageDone {
		t.Errorf("Wait() = %+v", st)
	}

	var last JobStatus
	for s := range ch {
		last = s
	}
	if last.Stage != StageDone {
		t.Errorf("last update = %+v", last)
	}

	// subscribing to a finished job yields its final status and a closed channel
	late, _ := jobs.Subscribe("a.csv")
	if s, ok := <-late; !ok || !s.Done {
		t.Errorf("late subscriber got %+v, %v", s, ok)
	}
	if _, ok := <-late; ok {
		t.Error("late subscriber channel not closed")
	}
}

func TestJobs_WaitContext(t *testing.T) {
	jobs := NewJobs(time.Minute)
	jobs.register("/drop/slow.csv", 10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := jobs.Wait(ctx, "slow.csv"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestJobs_Retention(t *testing.T) {
	jobs := NewJobs(20 * time.Millisecond)
	j, _ := jobs.register("/drop/a.csv", 10)
	j.update(func(s *JobStatus) { s.Done = true })
	j.finish()
	jobs.release(j)

	if len(jobs.List()) != 1 {
		t.Fatal("finished job not listed")
	}
	deadline := time.Now().Add(time.Second)
	for len(jobs.List()) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(jobs.List()); n != 0 {
		t.Errorf("List() has %d jobs after retention", n)
	}
}

func TestJobs_CancelAll(t *testing.T) {
	jobs := NewJobs(time.Minute)
	a, _ := jobs.register("/drop/a.csv", 10)
	b, _ := jobs.register("/drop/b.csv", 10)
	b.update(func(s *JobStatus) { s.Done = true })

	if n := jobs.CancelAll(); n != 1 {
		t.Errorf("CancelAll() = %d, want 1", n)
	}
	if !a.canceled.Load() || b.canceled.Load() {
		t.Error("cancel flags wrong")
	}
}

func TestJobStatus_Percent(t *testing.T) {
	tests := []struct {
		name   string
		status JobStatus
		want   int
	}{
		{"nothing known", JobStatus{Stage: StageInserting}, -1},
		{"rows", JobStatus{Stage: StageInserting, Inserted: 990, Total: 2500}, 39},
		{"rows preferred over bytes", JobStatus{Stage: StageInserting, Inserted: 10, Total: 100, BytesRead: 900, Size: 1000}, 10},
		{"bytes without row total", JobStatus{Stage: StageInserting, BytesRead: 250, Size: 1000}, 25},
		{"read ahead capped", JobStatus{Stage: StageInserting, Inserted: 120, Total: 100}, 100},
		{"done", JobStatus{Stage: StageDone}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := NewJobs(time.Minute)
			j, err := jobs.register("/drop/a/sales.csv", 990)
			if err != nil {
				t.Fatal(err)
			}
			j.update(func(s *JobStatus) {
				s.Stage = tt.status.Stage
				s.Inserted = tt.status.Inserted
				s.Total = tt.status.Total
				s.BytesRead = tt.status.BytesRead
				s.Size = tt.status.Size
			})
			if got := j.snapshot().Percent; got != tt.want {
				t.Errorf("Percent = %d, want %d", got, tt.want)
			}
		})
	}
}
