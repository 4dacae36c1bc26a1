package policy

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func validDescriptor() Descriptor {
	return Descriptor{
		Method: http.MethodGet,
		Auth:   AuthRequired,
		Tier:   TierRead,
		KeyBy:  KeyByUser,
	}
}

func TestValidateAccepts(t *testing.T) {
	tiers := DefaultTiers()
	cases := []Descriptor{
		validDescriptor(),
		{Method: http.MethodPost, PathSuffix: "/{id}/attempts", Auth: AuthRequired, Tier: TierGameplay, KeyBy: KeyByUser, Roles: []string{"student"}},
		{Method: http.MethodGet, PathSuffix: "/leaderboard", Auth: AuthNone, Tier: TierRead, KeyBy: KeyByIP},
		{Method: http.MethodGet, Auth: AuthOptional, Tier: TierRead, KeyBy: KeyDefault},
		{Method: http.MethodDelete, PathSuffix: "/{id}", Auth: AuthRequired, Tier: TierStrict, KeyBy: KeyByUser, Roles: []string{"teacher"}},
	}
	for _, d := range cases {
		if err := d.Validate(tiers); err != nil {
			t.Fatalf("expected %s %s to validate, got %v", d.Method, d.PathSuffix, err)
		}
	}
}

func TestValidateRejectsUnknownMethod(t *testing.T) {
	d := validDescriptor()
	d.Method = "TRACE"
	if err := d.Validate(DefaultTiers()); err == nil {
		t.Fatal("expected error for method outside the allowed set")
	}
}

func TestValidateRejectsUnknownTier(t *testing.T) {
	d := validDescriptor()
	d.Tier = "BURST"
	if err := d.Validate(DefaultTiers()); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestValidateRejectsBadSuffix(t *testing.T) {
	d := validDescriptor()
	d.PathSuffix = "no-slash"
	if err := d.Validate(DefaultTiers()); err == nil {
		t.Fatal("expected error for suffix without leading slash")
	}
}

func TestValidateRejectsByUserWithoutAuth(t *testing.T) {
	d := validDescriptor()
	d.Auth = AuthNone
	d.KeyBy = KeyByUser
	err := d.Validate(DefaultTiers())
	if err == nil {
		t.Fatal("expected by_user + auth none to be rejected")
	}
	if !strings.Contains(err.Error(), "by_user") {
		t.Fatalf("unexpected error text: %v", err)
	}
}

func TestValidateRejectsRolesWithoutRequiredAuth(t *testing.T) {
	for _, mode := range []AuthMode{AuthNone, AuthOptional} {
		d := validDescriptor()
		d.Auth = mode
		d.KeyBy = KeyByIP
		d.Roles = []string{"teacher"}
		if err := d.Validate(DefaultTiers()); err == nil {
			t.Fatalf("expected roles with auth %s to be rejected", mode)
		}
	}
}

func TestValidateRejectsEmptyRole(t *testing.T) {
	d := validDescriptor()
	d.Roles = []string{"teacher", "  "}
	if err := d.Validate(DefaultTiers()); err == nil {
		t.Fatal("expected empty role to be rejected")
	}
}

func TestDefaultTiers(t *testing.T) {
	tiers := DefaultTiers()
	want := map[string]struct {
		limit  int
		window time.Duration
	}{
		TierStrict:   {10, time.Minute},
		TierGameplay: {60, time.Minute},
		TierRead:     {300, time.Minute},
	}
	for name, exp := range want {
		tier, ok := tiers[name]
		if !ok {
			t.Fatalf("tier %s missing", name)
		}
		if tier.Limit != exp.limit || tier.Window != exp.window {
			t.Fatalf("tier %s = %d/%s, want %d/%s", name, tier.Limit, tier.Window, exp.limit, exp.window)
		}
		if tier.Name != name {
			t.Fatalf("tier %s has name %q", name, tier.Name)
		}
	}
}

func TestStringers(t *testing.T) {
	if AuthRequired.String() != "required" || AuthOptional.String() != "optional" || AuthNone.String() != "none" {
		t.Fatal("auth mode strings changed")
	}
	if KeyByUser.String() != "by_user" || KeyByIP.String() != "by_ip" || KeyDefault.String() != "default" {
		t.Fatal("key strategy strings changed")
	}
}
