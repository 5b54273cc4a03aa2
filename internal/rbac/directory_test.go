package rbac

import "testing"

func TestRolePrecedence(t *testing.T) {
	cases := []struct {
		name  string
		cfg   Config
		phone string
		want  Role
	}{
		{"admin for admin phone", Config{AdminPhones: []string{"+972509999999"}}, "+972509999999", RoleAdmin},
		{"godfather for godfather phone", Config{GodfatherPhone: "+972507654321"}, "+972507654321", RoleGodfather},
		{"blocked for blocked phone", Config{BlockedPhones: []string{"+972501111111"}}, "+972501111111", RoleBlocked},
		{"client for unknown phone", Config{}, "+972501234567", RoleClient},
		{
			"admin beats godfather",
			Config{AdminPhones: []string{"+972509999999"}, GodfatherPhone: "+972509999999"},
			"+972509999999", RoleAdmin,
		},
		{
			"admin beats blocked",
			Config{AdminPhones: []string{"+972509999999"}, BlockedPhones: []string{"+972509999999"}},
			"+972509999999", RoleAdmin,
		},
		{
			"godfather beats blocked",
			Config{GodfatherPhone: "+972507654321", BlockedPhones: []string{"+972507654321"}},
			"+972507654321", RoleGodfather,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := New(tc.cfg)
			u, err := d.Lookup(tc.phone)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.Role != tc.want {
				t.Fatalf("role = %v, want %v", u.Role, tc.want)
			}
			if u.Phone != tc.phone {
				t.Fatalf("phone = %v, want %v", u.Phone, tc.phone)
			}
		})
	}
}

func TestPermissionDerivations(t *testing.T) {
	d := New(Config{
		AdminPhones:    []string{"+972509999999"},
		GodfatherPhone: "+972507654321",
		BlockedPhones:  []string{"+972501111111"},
	})

	if blocked, _ := d.IsBlocked("+972501111111"); !blocked {
		t.Error("expected blocked phone to be blocked")
	}
	if blocked, _ := d.IsBlocked("+972507654321"); blocked {
		t.Error("godfather must not be blocked")
	}

	if access, _ := d.CanAccessSystem("+972509999999"); !access {
		t.Error("admin should access system")
	}
	if access, _ := d.CanAccessSystem("+972507654321"); access {
		t.Error("godfather should not access system")
	}

	if all, _ := d.CanSeeAllMemories("+972509999999"); !all {
		t.Error("admin should see all memories")
	}
	if all, _ := d.CanSeeAllMemories("+972507654321"); !all {
		t.Error("godfather should see all memories")
	}
	if all, _ := d.CanSeeAllMemories("+972501234567"); all {
		t.Error("client should not see all memories")
	}

	if limit, _ := d.TokenLimit("+972501234567"); limit != 4000 {
		t.Errorf("client token limit = %d, want 4000", limit)
	}
	if limit, _ := d.TokenLimit("+972507654321"); limit != 100000 {
		t.Errorf("godfather token limit = %d, want 100000", limit)
	}
	if limit, _ := d.TokenLimit("+972501111111"); limit != 0 {
		t.Errorf("blocked token limit = %d, want 0", limit)
	}
}

func TestAllowedScopes(t *testing.T) {
	d := New(Config{AdminPhones: []string{"+972509999999"}})

	scopes, err := d.AllowedScopes("+972509999999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[Scope]bool{ScopePublic: true, ScopePrivate: true, ScopeSystem: true}
	if len(scopes) != len(want) {
		t.Fatalf("admin scopes = %v, want %v", scopes, want)
	}
	for _, s := range scopes {
		if !want[s] {
			t.Errorf("unexpected scope %v for admin", s)
		}
	}

	clientScopes, _ := d.AllowedScopes("+972501234567")
	for _, s := range clientScopes {
		if s == ScopeSystem {
			t.Error("client must not have SYSTEM scope")
		}
	}

	dBlocked := New(Config{BlockedPhones: []string{"+972501111111"}})
	blockedScopes, _ := dBlocked.AllowedScopes("+972501111111")
	if len(blockedScopes) != 0 {
		t.Errorf("blocked scopes = %v, want none", blockedScopes)
	}
}

func TestLookupRejectsEmptyPhone(t *testing.T) {
	d := New(Config{})
	if _, err := d.Lookup(""); err == nil {
		t.Fatal("expected error for empty phone")
	}
}

func TestLookupIsCachedAndReturnsStableSnapshot(t *testing.T) {
	d := New(Config{})
	u1, _ := d.Lookup("+972501234567")
	u1.TokenLimit = 999999 // mutate the returned copy
	u2, _ := d.Lookup("+972501234567")
	if u2.TokenLimit == 999999 {
		t.Fatal("mutating a returned User must not affect the cached snapshot")
	}
}
