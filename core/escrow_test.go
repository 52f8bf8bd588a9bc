package core

import "testing"

func TestEscrowReserveReleaseRoundTrip(t *testing.T) {
	em := NewEscrowManager(testLogger())
	em.Fund("node-1", 100)

	if err := em.Reserve("node-1", "c1", 40); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if free := em.Free("node-1"); free != 60 {
		t.Fatalf("expected 60 free after reserving 40, got %d", free)
	}
	if err := em.Release("node-1", "c1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if free := em.Free("node-1"); free != 100 {
		t.Fatalf("expected 100 free after release, got %d", free)
	}
}

func TestEscrowReserveInsufficientFunds(t *testing.T) {
	em := NewEscrowManager(testLogger())
	em.Fund("node-1", 10)

	err := em.Reserve("node-1", "c1", 20)
	if code, ok := CodeOf(err); !ok || code != ErrInsufficientFunds {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}
}

func TestEscrowSlashRemovesFraction(t *testing.T) {
	em := NewEscrowManager(testLogger())
	em.Fund("node-1", 100)
	if err := em.Reserve("node-1", "c1", 40); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := em.Slash("node-1", "c1", 0.5, "SLO_VIOLATED"); err != nil {
		t.Fatalf("Slash: %v", err)
	}
	if free := em.Free("node-1"); free != 80 {
		t.Fatalf("expected total reduced to 80 (100-20 slashed), got %d", free)
	}
	if reservations := em.ReservationsFor("node-1"); len(reservations) != 0 {
		t.Fatalf("expected reservation cleared after slash, got %+v", reservations)
	}
}

func TestEscrowSlashRejectsOutOfRangeFraction(t *testing.T) {
	em := NewEscrowManager(testLogger())
	em.Fund("node-1", 100)
	_ = em.Reserve("node-1", "c1", 40)

	if err := em.Slash("node-1", "c1", 1.5, "bad"); err == nil {
		t.Fatalf("expected error for fraction > 1")
	}
}
