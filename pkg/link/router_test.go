package link

import (
	"net/netip"
	"testing"
)

func ep(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}

func TestRouter_Indices(t *testing.T) {
	r := NewRouter()

	self := newNode(ep("10.0.0.1:1801"))
	self.setMaster(true)
	r.SetSelfNode(self)

	slave := newNode(ep("10.0.0.2:1801"))
	r.UpdateNode(slave)

	master := newNode(ep("10.0.0.3:1801"))
	master.setMaster(true)
	r.UpdateNode(master)

	if r.Count() != 3 {
		t.Errorf("Count = %d, want 3", r.Count())
	}
	if r.MasterCount() != 2 {
		t.Errorf("MasterCount = %d, want 2", r.MasterCount())
	}
	if got := len(r.OtherNodes()); got != 2 {
		t.Errorf("OtherNodes = %d, want 2", got)
	}
	if got := len(r.OtherMasters()); got != 1 {
		t.Errorf("OtherMasters = %d, want 1", got)
	}

	r.RemoveNode(slave)
	if r.Count() != 2 {
		t.Errorf("Count after remove = %d, want 2", r.Count())
	}
}

func TestRouter_NoDuplicateEndpoints(t *testing.T) {
	r := NewRouter()

	a := newNode(ep("10.0.0.2:1801"))
	r.UpdateNode(a)
	r.UpdateNode(a)

	b := newNode(ep("10.0.0.2:1801"))
	r.UpdateNode(b)

	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1: two records share an endpoint", r.Count())
	}
}

func TestRouter_FindByOverlayIP(t *testing.T) {
	r := NewRouter()

	n := newNode(ep("10.0.0.2:1801"))
	n.setIdentity(Identity{IP: netip.MustParseAddr("12.34.56.14")})
	r.UpdateNode(n)

	if got := r.FindByOverlayIP(netip.MustParseAddr("12.34.56.14")); got != n {
		t.Error("known overlay IP not found")
	}
	if got := r.FindByOverlayIP(netip.MustParseAddr("1.1.1.14")); got != nil {
		t.Error("unknown overlay IP resolved")
	}
}

func TestRouter_SelectMaster(t *testing.T) {
	r := NewRouter()

	// No nodes at all.
	if r.SelectMaster() != nil {
		t.Error("SelectMaster on empty router")
	}

	// Self as the sole master: must return self.
	self := newNode(ep("10.0.0.1:1801"))
	self.setMaster(true)
	r.SetSelfNode(self)
	if r.SelectMaster() != self {
		t.Error("sole master self not selected")
	}

	// Other masters take precedence over self and rotate.
	m1 := newNode(ep("10.0.0.2:1801"))
	m1.setMaster(true)
	r.UpdateNode(m1)
	m2 := newNode(ep("10.0.0.3:1801"))
	m2.setMaster(true)
	r.UpdateNode(m2)

	seen := map[*Node]int{}
	for i := 0; i < 4; i++ {
		got := r.SelectMaster()
		if got == self {
			t.Fatal("self selected while other masters exist")
		}
		seen[got]++
	}
	if seen[m1] != 2 || seen[m2] != 2 {
		t.Errorf("selection not round-robin: %v", seen)
	}
}

func TestRouter_SelectReincarnationTarget(t *testing.T) {
	r := NewRouter()

	self := newNode(ep("10.0.0.1:1801"))
	self.setMaster(true)
	r.SetSelfNode(self)

	// Only a NAT'd slave: nobody is eligible.
	natted := newNode(ep("10.0.0.2:1801"))
	natted.setBehindNAT(true)
	r.UpdateNode(natted)
	if r.SelectReincarnationTarget() != nil {
		t.Error("NAT'd slave selected for promotion")
	}

	// A clean slave is.
	clean := newNode(ep("10.0.0.3:1801"))
	r.UpdateNode(clean)
	if r.SelectReincarnationTarget() != clean {
		t.Error("eligible slave not selected")
	}

	// Masters never are.
	clean.setMaster(true)
	if r.SelectReincarnationTarget() != nil {
		t.Error("master selected for promotion")
	}
}

func TestRouter_Clear(t *testing.T) {
	r := NewRouter()
	self := newNode(ep("10.0.0.1:1801"))
	r.SetSelfNode(self)
	r.UpdateNode(newNode(ep("10.0.0.2:1801")))

	r.Clear()
	if r.Count() != 0 || r.SelfNode() != nil {
		t.Error("Clear left state behind")
	}
}
