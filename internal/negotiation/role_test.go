package negotiation

import "testing"

func TestRolesAreComplementary(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"user-1", "user-2"},
		{"zed", "amy"},
		{"9f2c", "a01b"},
	}
	for _, p := range pairs {
		a, b := RoleBetween(p[0], p[1]), RoleBetween(p[1], p[0])
		if a == b {
			t.Errorf("RoleBetween(%q,%q)=%s and RoleBetween(%q,%q)=%s: roles must be complementary",
				p[0], p[1], a, p[1], p[0], b)
		}
	}
}

func TestRoleIsStable(t *testing.T) {
	for i := 0; i < 100; i++ {
		if RoleBetween("alice", "bob") != Impolite {
			t.Fatal("role changed across repeated computation")
		}
	}
}

func TestSmallerIdentityIsImpolite(t *testing.T) {
	// alice < bob: alice initiates, bob waits.
	if got := RoleBetween("alice", "bob"); got != Impolite {
		t.Fatalf("alice: got %s, want impolite", got)
	}
	if got := RoleBetween("bob", "alice"); got != Polite {
		t.Fatalf("bob: got %s, want polite", got)
	}
}
