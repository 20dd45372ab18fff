package downline

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/taskyield/taskyield/internal/domain"
)

// user builds a node whose referral code is its email.
func user(email, referredBy string) domain.User {
	return domain.User{Email: email, ReferralCode: email, ReferredBy: referredBy, Status: domain.StatusActive}
}

func emails(us []domain.User) []string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = u.Email
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// chain returns root -> a -> b -> c -> d -> e plus a sibling at each layer.
func chainSnapshot() *domain.Snapshot {
	return domain.NewSnapshot([]domain.User{
		user("root", ""),
		user("a", "root"),
		user("a2", "root"),
		user("b", "a"),
		user("b2", "a2"),
		user("c", "b"),
		user("d", "c"),
		user("e", "d"),
		user("stranger", ""),
	}, nil, nil, nil)
}

// ═══════════════════════════════════════════════════════════════════════════
// Build
// ═══════════════════════════════════════════════════════════════════════════

func TestBuild_Layers(t *testing.T) {
	snap := chainSnapshot()
	root, _ := snap.User("root")
	tree := Build(root, snap)

	tests := []struct {
		name string
		got  []domain.User
		want []string
	}{
		{"level1", tree.Level1, []string{"a", "a2"}},
		{"level2", tree.Level2, []string{"b", "b2"}},
		{"level3", tree.Level3, []string{"c"}},
		{"tail", tree.Tail, []string{"d", "e"}},
	}
	for _, tt := range tests {
		if got := emails(tt.got); !equal(got, tt.want) {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBuild_EmptyDownline(t *testing.T) {
	snap := chainSnapshot()
	u, _ := snap.User("stranger")
	tree := Build(u, snap)
	if len(tree.Level1)+len(tree.Level2)+len(tree.Level3)+len(tree.Tail) != 0 {
		t.Errorf("Build(stranger) = %+v, want empty tree", tree)
	}
}

func TestBuild_EmptyMiddleLayer(t *testing.T) {
	snap := domain.NewSnapshot([]domain.User{user("root", ""), user("a", "root")}, nil, nil, nil)
	root, _ := snap.User("root")
	tree := Build(root, snap)
	if len(tree.Level1) != 1 || len(tree.Level2) != 0 || len(tree.Level3) != 0 || len(tree.Tail) != 0 {
		t.Errorf("Build() = %+v, want only level1", tree)
	}
}

func TestBuild_CycleTerminatesAndExcludesSelf(t *testing.T) {
	// root -> a -> b -> c -> d -> root: root was referred by its own descendant.
	snap := domain.NewSnapshot([]domain.User{
		user("root", "d"),
		user("a", "root"),
		user("b", "a"),
		user("c", "b"),
		user("d", "c"),
	}, nil, nil, nil)
	root, _ := snap.User("root")

	tree := Build(root, snap)

	for _, m := range append(tree.Team(), tree.Tail...) {
		if m.Email == "root" {
			t.Fatal("user appears in their own downline")
		}
	}
	if got := emails(tree.Tail); !equal(got, []string{"d"}) {
		t.Errorf("tail = %v, want [d]", got)
	}
}

func TestBuild_SelfReferral(t *testing.T) {
	snap := domain.NewSnapshot([]domain.User{user("loop", "loop")}, nil, nil, nil)
	u, _ := snap.User("loop")
	tree := Build(u, snap)
	if len(tree.Level1) != 0 {
		t.Errorf("level1 = %v, want empty for self-referral", emails(tree.Level1))
	}
}

func TestBuild_LayersPairwiseDisjoint(t *testing.T) {
	// Two users share a referral code, so the same subtree is reachable twice.
	users := []domain.User{
		user("root", ""),
		{Email: "a", ReferralCode: "X", ReferredBy: "root"},
		{Email: "b", ReferralCode: "X", ReferredBy: "root"},
		user("c", "X"),
		user("d", "c"),
	}
	snap := domain.NewSnapshot(users, nil, nil, nil)
	root, _ := snap.User("root")
	tree := Build(root, snap)

	seen := map[string]string{}
	for name, layer := range map[string][]domain.User{
		"level1": tree.Level1, "level2": tree.Level2, "level3": tree.Level3, "tail": tree.Tail,
	} {
		for _, m := range layer {
			if prev, dup := seen[m.Email]; dup {
				t.Errorf("%s appears in both %s and %s", m.Email, prev, name)
			}
			seen[m.Email] = name
		}
	}
}

func TestBuild_LargeRingTerminates(t *testing.T) {
	const n = 500
	users := make([]domain.User, n)
	for i := range users {
		users[i] = user(fmt.Sprintf("u%d", i), fmt.Sprintf("u%d", (i+n-1)%n))
	}
	snap := domain.NewSnapshot(users, nil, nil, nil)
	tree := Build(users[0], snap)
	if got := len(tree.Team()) + len(tree.Tail); got != n-1 {
		t.Errorf("downline size = %d, want %d", got, n-1)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	snap := chainSnapshot()
	root, _ := snap.User("root")
	first := Build(root, snap)
	for i := 0; i < 5; i++ {
		got := Build(root, snap)
		if !equal(emails(got.Team()), emails(first.Team())) || !equal(emails(got.Tail), emails(first.Tail)) {
			t.Fatalf("run %d produced a different tree", i)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Enrich
// ═══════════════════════════════════════════════════════════════════════════

func TestEnrich_UsesLiveRecords(t *testing.T) {
	snap := domain.NewSnapshot([]domain.User{
		user("root", ""),
		{Email: "a", ReferralCode: "a", ReferredBy: "root", Status: domain.StatusDisabled},
	}, map[string]domain.Balances{
		"a": {Email: "a", Task: decimal.NewFromInt(150)},
	}, nil, nil)
	levels := domain.LevelTable{{Number: 0}, {Number: 1, MinAmount: decimal.NewFromInt(100)}}

	stale := []domain.User{{Email: "a", Status: domain.StatusActive}}
	views := Enrich(stale, snap, levels)

	if len(views) != 1 {
		t.Fatalf("len(Enrich()) = %d, want 1", len(views))
	}
	if views[0].Status != domain.StatusDisabled {
		t.Errorf("Status = %q, want disabled (live record)", views[0].Status)
	}
	if views[0].Tier != 1 {
		t.Errorf("Tier = %d, want 1", views[0].Tier)
	}
}

func TestDescribe(t *testing.T) {
	snap := chainSnapshot()
	root, _ := snap.User("root")
	v := Describe(root, snap, nil)
	if v.Email != "root" || len(v.Level1) != 2 || len(v.Tail) != 2 {
		t.Errorf("Describe() = %+v", v)
	}
}
