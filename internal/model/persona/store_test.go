package persona

import "testing"

func TestSeedHasInstructions(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range Seed() {
		if p.ID == "" || p.Instructions == "" {
			t.Fatalf("persona %+v missing id or instructions", p)
		}
		if seen[p.ID] {
			t.Fatalf("duplicate persona id %s", p.ID)
		}
		seen[p.ID] = true
	}
	if !seen["zener-agent"] {
		t.Fatal("expected default zener-agent persona")
	}
}

func TestMemoryStoreListIsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].Name = "changed"

	if store.List()[0].Name == "changed" {
		t.Fatal("List must return a copy")
	}
}

func TestResolve(t *testing.T) {
	store := NewMemoryStore(Seed())

	cases := []struct {
		name     string
		id       string
		fallback string
		want     string
		ok       bool
	}{
		{name: "explicit", id: "assistant", fallback: "zener-agent", want: "assistant", ok: true},
		{name: "unknown falls back", id: "nobody", fallback: "zener-agent", want: "zener-agent", ok: true},
		{name: "empty falls back", id: "", fallback: "assistant", want: "assistant", ok: true},
		{name: "nothing found", id: "nobody", fallback: "missing", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Resolve(store, tc.id, tc.fallback)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got.ID != tc.want {
				t.Fatalf("got %s, want %s", got.ID, tc.want)
			}
		})
	}

	if _, ok := Resolve(nil, "assistant", "zener-agent"); ok {
		t.Fatal("nil store must not resolve")
	}
}
