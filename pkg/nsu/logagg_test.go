package nsu

import "testing"

func TestLogAggregationQueue_EnqueueDrain(t *testing.T) {
	q := NewLogAggregationQueue()
	q.Enqueue([]byte("one"))
	q.Enqueue([]byte("two"))

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain() returned %d reports, want 2", len(drained))
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Drain() = %d, want 0", q.Len())
	}
}
