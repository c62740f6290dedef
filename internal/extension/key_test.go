package extension

import "testing"

func TestKeyStringOmitsUniversalPlatform(t *testing.T) {
	k := NewKey(Identifier{ID: "Acme.Tooling"}, "1.2.3", PlatformUniversal)
	if got := k.String(); got != "acme.tooling-1.2.3" {
		t.Errorf("String() = %q, want %q", got, "acme.tooling-1.2.3")
	}
}

func TestKeyStringIncludesPlatform(t *testing.T) {
	k := NewKey(Identifier{ID: "acme.tooling"}, "1.2.3", PlatformLinuxX64)
	if got := k.String(); got != "acme.tooling-1.2.3-linux-x64" {
		t.Errorf("String() = %q, want %q", got, "acme.tooling-1.2.3-linux-x64")
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	cases := []Key{
		NewKey(Identifier{ID: "acme.tooling"}, "1.2.3", PlatformUndefined),
		NewKey(Identifier{ID: "acme.tooling"}, "0.0.1", PlatformDarwinARM64),
		NewKey(Identifier{ID: "acme.my-tool"}, "10.20.30", PlatformWin32X64),
	}
	for _, want := range cases {
		got, ok := ParseKey(want.String())
		if !ok {
			t.Fatalf("ParseKey(%q) failed", want.String())
		}
		if !got.Same(want) {
			t.Errorf("ParseKey(%q) = %+v, want %+v", want.String(), got, want)
		}
	}
}

func TestParseKeyRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "no-version", "acme.tool", "1.2.3", ".obsolete"} {
		if _, ok := ParseKey(s); ok {
			t.Errorf("ParseKey(%q) succeeded, want failure", s)
		}
	}
}

func TestIdentifierSame(t *testing.T) {
	a := Identifier{ID: "Acme.Tooling"}
	b := Identifier{ID: "acme.tooling"}
	if !a.Same(b) {
		t.Error("case-insensitive ids should match")
	}

	c := Identifier{ID: "acme.tooling", UUID: "u1"}
	d := Identifier{ID: "acme.tooling", UUID: "u2"}
	if c.Same(d) {
		t.Error("differing uuids must not match even with equal ids")
	}

	e := Identifier{ID: "other.name", UUID: "u1"}
	if !c.Same(e) {
		t.Error("matching uuids should win over differing ids")
	}
}

func TestPlatformCompatibleUndefined(t *testing.T) {
	all := []TargetPlatform{PlatformUndefined}
	if !PlatformCompatible(PlatformUndefined, all, PlatformLinuxX64) {
		t.Error("undefined build should run on native platforms")
	}
	if PlatformCompatible(PlatformUndefined, all, PlatformWeb) {
		t.Error("undefined build without web siblings should not run on web")
	}

	webAll := []TargetPlatform{PlatformWeb}
	if !PlatformCompatible(PlatformUndefined, webAll, PlatformWeb) {
		t.Error("undefined build with web siblings should run on web")
	}
}

func TestPlatformCompatibleSpecific(t *testing.T) {
	all := []TargetPlatform{PlatformLinuxX64, PlatformDarwinARM64}
	if !PlatformCompatible(PlatformLinuxX64, all, PlatformLinuxX64) {
		t.Error("exact platform should match")
	}
	if PlatformCompatible(PlatformLinuxX64, all, PlatformDarwinARM64) {
		t.Error("mismatched platform should not match")
	}
	if !PlatformCompatible(PlatformLinuxX64, all, PlatformUnknown) {
		t.Error("unknown wanted platform should match anything")
	}
}
