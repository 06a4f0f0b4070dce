package proxy

import (
	"testing"

	"pgharvest/internal/config"
)

func specs(n int) []config.ProxySpec {
	out := make([]config.ProxySpec, n)
	for i := range out {
		out[i] = config.ProxySpec{Server: "proxy:8080"}
	}
	return out
}

func TestPool_AssignInitialPrefersModulo(t *testing.T) {
	p := NewPool(specs(5), 1)

	for worker := 0; worker < 5; worker++ {
		if got := p.AssignInitial(worker, nil); got != worker {
			t.Errorf("worker %d: expected index %d, got %d", worker, worker, got)
		}
	}
}

func TestPool_AssignInitialSkipsBusyAndExcluded(t *testing.T) {
	p := NewPool(specs(4), 1)

	if got := p.AssignInitial(0, nil); got != 0 {
		t.Fatalf("first assign: got %d", got)
	}
	// Preferred index 0 is busy; exclusion removes 1; first free is 2.
	if got := p.AssignInitial(4, map[int]bool{1: true}); got != 2 {
		t.Errorf("expected fallback to 2, got %d", got)
	}
}

func TestPool_AssignInitialSharesWhenExhausted(t *testing.T) {
	p := NewPool(specs(2), 1)
	p.AssignInitial(0, nil)
	p.AssignInitial(1, nil)

	// All busy: worker 5 shares its preferred index 5 % 2 = 1.
	if got := p.AssignInitial(5, nil); got != 1 {
		t.Errorf("expected shared index 1, got %d", got)
	}
}

func TestPool_RotateAvoidsCurrentAndBusy(t *testing.T) {
	p := NewPool(specs(4), 1)
	cur := p.AssignInitial(0, nil) // 0
	p.AssignInitial(1, nil)        // 1 busy

	for i := 0; i < 20; i++ {
		next := p.Rotate(cur)
		if next == cur {
			t.Fatalf("rotation returned current index %d", cur)
		}
		if next == 1 {
			t.Fatalf("rotation picked a busy index while free ones exist")
		}
		cur = next
	}
}

func TestPool_RotateSharesWhenOnlyBusyRemain(t *testing.T) {
	p := NewPool(specs(2), 1)
	a := p.AssignInitial(0, nil) // 0
	p.AssignInitial(1, nil)      // 1 busy

	if next := p.Rotate(a); next != 1 {
		t.Errorf("expected forced share of index 1, got %d", next)
	}
}

func TestPool_RotateSingleEntryKeepsCurrent(t *testing.T) {
	p := NewPool(specs(1), 1)
	cur := p.AssignInitial(0, nil)
	if next := p.Rotate(cur); next != cur {
		t.Errorf("single-entry pool must keep current, got %d", next)
	}
}

func TestPool_InitialIndices(t *testing.T) {
	p := NewPool(specs(5), 1)
	p.AssignInitial(0, nil)
	p.AssignInitial(2, nil)

	got := p.InitialIndices()
	if len(got) != 2 || !got[0] || !got[2] {
		t.Errorf("unexpected initial indices: %v", got)
	}

	// Mutating the copy must not leak back.
	got[4] = true
	if p.InitialIndices()[4] {
		t.Error("InitialIndices returned shared state")
	}
}

func TestPool_ReleaseMakesIndexFree(t *testing.T) {
	p := NewPool(specs(2), 1)
	idx := p.AssignInitial(0, nil)
	p.Release(idx)

	if got := p.AssignInitial(0, nil); got != idx {
		t.Errorf("released index should be assignable again, got %d", got)
	}
}

func TestPool_Label(t *testing.T) {
	p := NewPool([]config.ProxySpec{
		{Server: "gw:8080", Username: "cust-abc-ip-92.113.225.14"},
		{Server: "gw:8080", Username: "cust-abc-ip-92.113.225.14-sess-9"},
		{Server: "gw:8080", Username: "plainuser"},
		{Server: "gw:8080"},
	}, 1)

	cases := []struct {
		idx  int
		want string
	}{
		{0, "92.113.225.xxx"},
		{1, "92.113.225.xxx"},
		{2, "proxy_2"},
		{3, "proxy_3"},
	}
	for _, tc := range cases {
		if got := p.Label(tc.idx); got != tc.want {
			t.Errorf("Label(%d) = %q, want %q", tc.idx, got, tc.want)
		}
	}
}
