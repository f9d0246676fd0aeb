package metrics

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestCollector_ClientLifecycle(t *testing.T) {
	c := New()

	c.ClientAccepted()
	c.ClientAccepted()
	c.ClientAccepted()
	c.ClientClosed()

	if c.ActiveClients() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveClients())
	}
	if c.PendingClients() != 1 {
		t.Errorf("pending = %d, want 1", c.PendingClients())
	}
	if c.TotalAccepted() != 3 {
		t.Errorf("accepted = %d, want 3", c.TotalAccepted())
	}

	c.ClientReclaimed(false)
	c.SweepCompleted()
	if c.PendingClients() != 0 {
		t.Errorf("pending after sweep = %d, want 0", c.PendingClients())
	}
	if c.Reclaimed() != 1 {
		t.Errorf("reclaimed = %d, want 1", c.Reclaimed())
	}
	if c.Sweeps() != 1 {
		t.Errorf("sweeps = %d, want 1", c.Sweeps())
	}
}

func TestCollector_ReclaimAtShutdown(t *testing.T) {
	c := New()
	for i := 0; i < 4; i++ {
		c.ClientAccepted()
	}
	c.ClientClosed()

	c.ClientReclaimed(true)
	c.ClientReclaimed(true)
	c.ClientReclaimed(true)
	c.ClientReclaimed(false)

	if c.ActiveClients() != 0 || c.PendingClients() != 0 {
		t.Errorf("active=%d pending=%d, want 0/0", c.ActiveClients(), c.PendingClients())
	}
	if c.Reclaimed() != 4 {
		t.Errorf("reclaimed = %d, want 4", c.Reclaimed())
	}
}

func TestCollector_Bytes(t *testing.T) {
	c := New()

	c.BytesReceived(1024)
	c.BytesSent(512)
	c.BytesReceived(100)

	if c.TotalBytesIn() != 1124 {
		t.Errorf("bytes in = %d, want 1124", c.TotalBytesIn())
	}
	if c.TotalBytesOut() != 512 {
		t.Errorf("bytes out = %d, want 512", c.TotalBytesOut())
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first error")
	c.RecordError("second error")

	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
	if got := c.Snapshot().LastErrorMessage; got != "second error" {
		t.Errorf("last error = %q", got)
	}
}

func TestCollector_Snapshot(t *testing.T) {
	c := New()
	c.ClientAccepted()
	c.BytesReceived(100)
	c.TunnelReconnect()
	c.SweepCompleted()

	snap := c.Snapshot()
	if snap.ClientsActive != 1 {
		t.Errorf("snap active = %d", snap.ClientsActive)
	}
	if snap.BytesIn != 100 {
		t.Errorf("snap bytes in = %d", snap.BytesIn)
	}
	if snap.TunnelReconnects != 1 {
		t.Errorf("snap reconnects = %d", snap.TunnelReconnects)
	}
	if snap.LastSweep == "" {
		t.Error("expected non-empty last sweep timestamp")
	}
	if snap.LastError != "" {
		t.Errorf("unexpected last error %q", snap.LastError)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.ClientAccepted()

	var snap Snapshot
	if err := json.Unmarshal([]byte(c.JSON()), &snap); err != nil {
		t.Fatalf("JSON output not parseable: %v", err)
	}
	if snap.ClientsAccepted != 1 {
		t.Errorf("clients_accepted = %d, want 1", snap.ClientsAccepted)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.ClientAccepted()
	c.ClientClosed()
	c.SweepCompleted()
	c.ClientReclaimed(true)
	c.BytesReceived(1)
	c.BytesSent(1)
	c.TunnelReconnect()
	c.RecordError("x")

	if c.ActiveClients() != 0 || c.Sweeps() != 0 || c.ErrorCount() != 0 {
		t.Error("nil collector should report zeros")
	}
	if c.JSON() == "" {
		t.Error("nil collector JSON should still render")
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ClientAccepted()
			c.BytesReceived(10)
		}()
	}
	wg.Wait()

	if c.TotalAccepted() != 50 {
		t.Errorf("accepted = %d, want 50", c.TotalAccepted())
	}
	if c.TotalBytesIn() != 500 {
		t.Errorf("bytes in = %d, want 500", c.TotalBytesIn())
	}
}
