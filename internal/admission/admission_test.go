package admission

import (
	"net"
	"testing"

	"github.com/qterm/qterm/internal/wire"
)

func mustAddr(t *testing.T, s string) net.Addr {
	t.Helper()
	addr, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		t.Fatalf("resolve addr: %v", err)
	}
	return addr
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	addr := mustAddr(t, "10.0.0.1:5555")
	for i := 0; i < 3; i++ {
		if !rl.Allow(addr) {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if rl.Allow(addr) {
		t.Fatal("request beyond burst should be rejected")
	}
}

func TestRateLimiterSeparatesAddresses(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	a := mustAddr(t, "10.0.0.1:5555")
	b := mustAddr(t, "10.0.0.2:6666")

	if !rl.Allow(a) {
		t.Fatal("first request from a should be allowed")
	}
	if !rl.Allow(b) {
		t.Fatal("first request from b should be allowed even though a's bucket is empty")
	}
}

func TestBanTrackerBansAfterThreshold(t *testing.T) {
	bt := NewBanTracker(3)
	addr := mustAddr(t, "10.0.0.9:1111")

	if bt.IsBanned(addr) {
		t.Fatal("fresh address should not be banned")
	}
	if bt.RecordFailure(addr) {
		t.Fatal("1st failure should not ban")
	}
	if bt.RecordFailure(addr) {
		t.Fatal("2nd failure should not ban")
	}
	if !bt.RecordFailure(addr) {
		t.Fatal("3rd failure should trigger ban")
	}
	if !bt.IsBanned(addr) {
		t.Fatal("address should now be banned")
	}
}

func TestBanTrackerSuccessClearsFailuresNotBan(t *testing.T) {
	bt := NewBanTracker(2)
	addr := mustAddr(t, "10.0.0.9:2222")

	bt.RecordFailure(addr)
	bt.RecordSuccess(addr)
	if bt.RecordFailure(addr) {
		t.Fatal("failure count should have reset after success")
	}

	bt.RecordFailure(addr) // now banned
	if !bt.IsBanned(addr) {
		t.Fatal("expected ban after threshold reached again")
	}
	bt.RecordSuccess(addr)
	if !bt.IsBanned(addr) {
		t.Fatal("a ban must survive a later success — it is permanent for process lifetime")
	}
}

func TestTokenStoreAddRemoveReplace(t *testing.T) {
	tok1, err := wire.GenerateAuthToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	tok2, err := wire.GenerateAuthToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	ts := NewTokenStore(tok1)
	if !ts.Valid(tok1) {
		t.Fatal("tok1 should be valid at construction")
	}
	if ts.Valid(tok2) {
		t.Fatal("tok2 should not be valid yet")
	}

	ts.Add(tok2)
	if !ts.Valid(tok2) {
		t.Fatal("tok2 should be valid after Add")
	}

	ts.Remove(tok1)
	if ts.Valid(tok1) {
		t.Fatal("tok1 should be invalid after Remove")
	}

	ts.Replace([]wire.AuthToken{tok1})
	if !ts.Valid(tok1) || ts.Valid(tok2) {
		t.Fatal("Replace should swap the whole set")
	}
	if ts.Len() != 1 {
		t.Errorf("Len() = %d, want 1", ts.Len())
	}
}

func TestReconnectIssuerRoundTrip(t *testing.T) {
	ri, err := NewReconnectIssuer()
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	tok, err := ri.Issue(42)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	sid, err := ri.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sid != 42 {
		t.Errorf("session id = %d, want 42", sid)
	}
}

func TestReconnectIssuerRejectsForeignToken(t *testing.T) {
	a, err := NewReconnectIssuer()
	if err != nil {
		t.Fatalf("new issuer a: %v", err)
	}
	b, err := NewReconnectIssuer()
	if err != nil {
		t.Fatalf("new issuer b: %v", err)
	}

	tok, err := a.Issue(7)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(tok); err == nil {
		t.Fatal("expected verification to fail against a different issuer's key")
	}
}
