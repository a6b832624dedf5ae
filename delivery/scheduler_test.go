package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/queue"
	queuemem "github.com/xraph/courier/queue/memory"
)

func TestSchedulerOrdersByDueTime(t *testing.T) {
	q := queuemem.New()
	s := delivery.NewScheduler(q, nil)
	s.Start()
	defer s.Stop()

	late := queue.Task{DeliveryID: id.NewDeliveryID()}
	early := queue.Task{DeliveryID: id.NewDeliveryID()}

	now := time.Now()
	if !s.Schedule(late, now.Add(80*time.Millisecond)) || !s.Schedule(early, now.Add(20*time.Millisecond)) {
		t.Fatal("schedule rejected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.DeliveryID != early.DeliveryID || second.DeliveryID != late.DeliveryID {
		t.Fatal("tasks dequeued out of due order")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d after drain", s.Len())
	}
}

func TestSchedulerPastDueRunsImmediately(t *testing.T) {
	q := queuemem.New()
	s := delivery.NewScheduler(q, nil)
	s.Start()
	defer s.Stop()

	task := queue.Task{DeliveryID: id.NewDeliveryID()}
	s.Schedule(task, time.Now().Add(-time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.DeliveryID != task.DeliveryID {
		t.Fatal("wrong task")
	}
}

func TestSchedulerStopDiscards(t *testing.T) {
	q := queuemem.New()
	s := delivery.NewScheduler(q, nil)
	s.Start()

	s.Schedule(queue.Task{DeliveryID: id.NewDeliveryID()}, time.Now().Add(time.Hour))

	deadline := time.Now().Add(time.Second)
	for s.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("task never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()
	if s.Len() != 0 {
		t.Fatalf("Len = %d after stop", s.Len())
	}
	if s.Schedule(queue.Task{DeliveryID: id.NewDeliveryID()}, time.Now()) {
		t.Fatal("Schedule accepted after Stop")
	}
	if n, _ := q.Len(context.Background()); n != 0 {
		t.Fatalf("queue length = %d", n)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := delivery.NewScheduler(queuemem.New(), nil)
	s.Stop()
	s.Stop()
}
