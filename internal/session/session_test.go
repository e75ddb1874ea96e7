package session

import (
	"bytes"
	"testing"
	"time"
)

func TestSpawnEchoesInputToOutput(t *testing.T) {
	p, err := Spawn(1, Config{Shell: "/bin/sh", Args: []string{"-c", "cat"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Kill()

	if err := p.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case data := <-p.Output:
		if !bytes.Contains(data, []byte("hello")) {
			t.Errorf("output = %q, want to contain %q", data, "hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pty output")
	}
}

func TestResizeUpdatesGeometry(t *testing.T) {
	p, err := Spawn(2, Config{Shell: "/bin/sh", Args: []string{"-c", "sleep 5"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Kill()

	if err := p.Resize(40, 120); err != nil {
		t.Fatalf("resize: %v", err)
	}
	rows, cols := p.Geometry()
	if rows != 40 || cols != 120 {
		t.Errorf("geometry = %dx%d, want 40x120", rows, cols)
	}
}

func TestKillTerminatesChild(t *testing.T) {
	p, err := Spawn(3, Config{Shell: "/bin/sh", Args: []string{"-c", "sleep 30"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after kill")
	}
	if p.IsAlive() {
		t.Error("process should not be alive after kill")
	}
}

func TestSnapshotReturnsRecentOutput(t *testing.T) {
	p, err := Spawn(4, Config{Shell: "/bin/sh", Args: []string{"-c", "cat"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Kill()

	if err := p.Write([]byte("snapshot me\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	<-p.Output // drain so ring definitely has the bytes recorded

	data, rows, cols := p.Snapshot()
	if !bytes.Contains(data, []byte("snapshot me")) {
		t.Errorf("snapshot = %q, want to contain %q", data, "snapshot me")
	}
	if rows != 24 || cols != 80 {
		t.Errorf("snapshot geometry = %dx%d, want 24x80", rows, cols)
	}
}

func TestManagerSpawnGetKill(t *testing.T) {
	m := NewManager()
	defer m.Close()

	p, err := m.Spawn(Config{Shell: "/bin/sh", Args: []string{"-c", "sleep 5"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	got, ok := m.Get(p.ID)
	if !ok || got != p {
		t.Fatal("expected to get back the spawned session")
	}
	if m.Count() != 1 {
		t.Errorf("count = %d, want 1", m.Count())
	}

	if err := m.Kill(p.ID); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if _, ok := m.Get(p.ID); ok {
		t.Error("session should no longer be tracked after Kill")
	}
}

func TestManagerListReturnsAllTrackedIDs(t *testing.T) {
	m := NewManager()
	defer m.Close()

	a, err := m.Spawn(Config{Shell: "/bin/sh", Args: []string{"-c", "true"}, Rows: 1, Cols: 1})
	if err != nil {
		t.Fatalf("spawn a: %v", err)
	}
	b, err := m.Spawn(Config{Shell: "/bin/sh", Args: []string{"-c", "true"}, Rows: 1, Cols: 1})
	if err != nil {
		t.Fatalf("spawn b: %v", err)
	}
	defer m.Kill(a.ID)
	defer m.Kill(b.ID)

	ids := m.List()
	if len(ids) != 2 {
		t.Fatalf("List() returned %d ids, want 2", len(ids))
	}
	seen := map[uint64]bool{ids[0]: true, ids[1]: true}
	if !seen[a.ID] || !seen[b.ID] {
		t.Errorf("List() = %v, want to contain %d and %d", ids, a.ID, b.ID)
	}

	if err := m.Kill(a.ID); err != nil {
		t.Fatalf("kill a: %v", err)
	}
	if ids := m.List(); len(ids) != 1 || ids[0] != b.ID {
		t.Errorf("List() after killing a = %v, want [%d]", ids, b.ID)
	}
}

func TestManagerAllocatesMonotonicIDs(t *testing.T) {
	m := NewManager()
	defer m.Close()

	a, err := m.Spawn(Config{Shell: "/bin/sh", Args: []string{"-c", "true"}, Rows: 1, Cols: 1})
	if err != nil {
		t.Fatalf("spawn a: %v", err)
	}
	b, err := m.Spawn(Config{Shell: "/bin/sh", Args: []string{"-c", "true"}, Rows: 1, Cols: 1})
	if err != nil {
		t.Fatalf("spawn b: %v", err)
	}
	defer m.Kill(a.ID)
	defer m.Kill(b.ID)

	if b.ID <= a.ID {
		t.Errorf("expected monotonically increasing ids, got a=%d b=%d", a.ID, b.ID)
	}
}

func TestManagerDetachThenAttachResumesSameSession(t *testing.T) {
	m := NewManager()
	defer m.Close()

	p, err := m.Spawn(Config{Shell: "/bin/sh", Args: []string{"-c", "sleep 5"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer m.Kill(p.ID)

	m.Detach(p.ID)
	if _, ok := m.Get(p.ID); !ok {
		t.Fatal("detached session should still be tracked, not killed")
	}

	got, ok := m.Attach(p.ID)
	if !ok || got != p {
		t.Fatal("expected Attach to resume the same *PTY")
	}
}

func TestManagerAttachUnknownIDFails(t *testing.T) {
	m := NewManager()
	defer m.Close()

	if _, ok := m.Attach(999); ok {
		t.Error("Attach should fail for an unknown session id")
	}
}

func TestManagerReapsDetachedSessionPastTTL(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	defer m.Close()

	p, err := m.Spawn(Config{Shell: "/bin/sh", Args: []string{"-c", "sleep 5"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	m.Detach(p.ID)
	time.Sleep(20 * time.Millisecond)
	m.reapOnce()

	if _, ok := m.Get(p.ID); ok {
		t.Error("session detached past its TTL should have been reaped")
	}
}

func TestManagerReapLeavesAttachedSessionAlone(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	defer m.Close()

	p, err := m.Spawn(Config{Shell: "/bin/sh", Args: []string{"-c", "sleep 5"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer m.Kill(p.ID)

	time.Sleep(20 * time.Millisecond)
	m.reapOnce()

	if _, ok := m.Get(p.ID); !ok {
		t.Error("an attached session should never be reaped regardless of TTL")
	}
}

func TestOutputRingTrimsToLineBound(t *testing.T) {
	r := newOutputRing()
	for i := 0; i < maxSnapshotLines+50; i++ {
		r.Write([]byte("line\n"))
	}
	if r.lines > maxSnapshotLines {
		t.Errorf("ring retained %d lines, want <= %d", r.lines, maxSnapshotLines)
	}
}
