package globalreq

import "testing"

func TestQueueDeliversInFIFOOrder(t *testing.T) {
	q := NewQueue()
	var order []int
	q.Push(func(err error, data []byte) { order = append(order, 1) })
	q.Push(func(err error, data []byte) { order = append(order, 2) })
	q.Push(func(err error, data []byte) { order = append(order, 3) })

	q.Deliver(true, nil)
	q.Deliver(true, nil)
	q.Deliver(true, nil)

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestQueueDeliverSuccessPassesData(t *testing.T) {
	q := NewQueue()
	var gotErr error
	var gotData []byte
	q.Push(func(err error, data []byte) { gotErr, gotData = err, data })
	q.Deliver(true, []byte{0, 0, 0x1f, 0x90})

	if gotErr != nil {
		t.Fatalf("expected nil error on success, got %v", gotErr)
	}
	if string(gotData) != string([]byte{0, 0, 0x1f, 0x90}) {
		t.Fatalf("expected reply payload to be forwarded, got %v", gotData)
	}
}

func TestQueueDeliverFailureUsesSentinelError(t *testing.T) {
	q := NewQueue()
	var gotErr error
	q.Push(func(err error, data []byte) { gotErr = err })
	q.Deliver(false, nil)

	if gotErr != ErrRequestFailed {
		t.Fatalf("expected ErrRequestFailed, got %v", gotErr)
	}
}

func TestQueueDeliverWithNothingPendingIsNoop(t *testing.T) {
	q := NewQueue()
	q.Deliver(true, nil) // must not panic
	if q.Len() != 0 {
		t.Fatalf("expected empty queue to remain empty")
	}
}

func TestQueueDrainInvokesAllPendingWithTeardownError(t *testing.T) {
	q := NewQueue()
	teardownErr := ErrRequestFailed // any sentinel works for this test
	var n int
	var lastErr error
	q.Push(func(err error, data []byte) { n++; lastErr = err })
	q.Push(func(err error, data []byte) { n++; lastErr = err })

	q.Drain(teardownErr)

	if n != 2 {
		t.Fatalf("expected both pending callbacks invoked, got %d", n)
	}
	if lastErr != teardownErr {
		t.Fatalf("expected teardown error to be forwarded, got %v", lastErr)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after drain")
	}
}
