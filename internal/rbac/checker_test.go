package rbac

import "testing"

func TestDefaultRoles(t *testing.T) {
	c := NewChecker(nil)

	if !c.Has("admin", PermManage) || !c.Has("admin", PermViewAll) || !c.HasOverride("admin") {
		t.Fatalf("admin wildcard must grant everything")
	}
	if !c.Has("instructor", PermManage) || !c.Has("instructor", PermViewAll) {
		t.Fatalf("instructor must manage and view all")
	}
	if c.HasOverride("instructor") {
		t.Fatalf("instructor must not bypass eligibility")
	}
	if c.Has("student", PermManage) || c.Has("student", PermViewAll) || c.HasOverride("student") {
		t.Fatalf("student must hold no engine capabilities")
	}
	if c.Has("unknown", PermViewAll) {
		t.Fatalf("unmapped roles must hold nothing")
	}
}

func TestPrefixWildcard(t *testing.T) {
	c := NewChecker(map[string][]string{
		"proctor": {"assessments:*"},
	})
	if !c.Has("proctor", PermViewAll) || !c.HasOverride("proctor") {
		t.Fatalf("prefix wildcard must cover assessment permissions")
	}
	if c.Has("proctor", "courses:manage") {
		t.Fatalf("prefix wildcard must not leak across namespaces")
	}
}
