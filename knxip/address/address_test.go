package address

import "testing"

func TestIndividualRoundTrip(t *testing.T) {
	cases := []string{"1.1.5", "15.15.255", "0.0.0"}
	for _, s := range cases {
		a, err := ParseIndividual(s)
		if err != nil {
			t.Fatalf("ParseIndividual(%q): %v", s, err)
		}
		if got := a.String(); got != s {
			t.Fatalf("round trip %q -> %q", s, got)
		}
	}
	a, err := ParseIndividual("1/2/3")
	if err != nil {
		t.Fatalf("ParseIndividual with slash: %v", err)
	}
	if a.String() != "1.2.3" {
		t.Fatalf("got %q", a.String())
	}
}

func TestGroupZeroFormatsAsThreeLevel(t *testing.T) {
	var g Group
	if g.String() != "0/0/0" {
		t.Fatalf("zero group address formatted as %q, want 0/0/0", g.String())
	}
	parsed, err := ParseGroup("0/0/0")
	if err != nil {
		t.Fatal(err)
	}
	if parsed != g {
		t.Fatalf("round trip mismatch: %v != %v", parsed, g)
	}
}

func TestGroupPresentations(t *testing.T) {
	g3 := NewGroup3(1, 2, 3)
	if g3.String3() != "1/2/3" {
		t.Fatalf("got %q", g3.String3())
	}
	parsed, err := ParseGroup("1/2/3")
	if err != nil || parsed != g3 {
		t.Fatalf("ParseGroup(1/2/3) = %v, %v", parsed, err)
	}

	g2 := NewGroup2(1, 515)
	if g2.String2() != "1/515" {
		t.Fatalf("got %q", g2.String2())
	}
	parsed2, err := ParseGroup("1/515")
	if err != nil || parsed2 != g2 {
		t.Fatalf("ParseGroup(1/515) = %v, %v", parsed2, err)
	}

	free := NewGroupFree(4660)
	if free.StringFree() != "4660" {
		t.Fatalf("got %q", free.StringFree())
	}
	parsedFree, err := ParseGroup("4660")
	if err != nil || parsedFree != free {
		t.Fatalf("ParseGroup(4660) = %v, %v", parsedFree, err)
	}
}

func TestParseGroupRejectsMixedSeparators(t *testing.T) {
	if _, err := ParseGroup("1/2.3"); err == nil {
		t.Fatal("expected error for mixed separators")
	}
}

func TestExtractAPCIShortForm(t *testing.T) {
	tpdu := []byte{0x00, 0x80 | 0x01} // GroupValueWrite, data=1
	apci, data, ok := ExtractAPCI(tpdu)
	if !ok || apci != GroupValueWrite || data != 1 {
		t.Fatalf("got apci=%v data=%v ok=%v", apci, data, ok)
	}
}

func TestExtractAPCILongForm(t *testing.T) {
	tpdu := []byte{0x00, 0x00, byte(PropertyValueWrite & 0xFF)}
	_ = tpdu
	// PropertyValueWrite (0x3D7) needs bit8 set in byte0's low bits.
	b0 := byte((PropertyValueWrite >> 8) & 0x03)
	b1 := byte(PropertyValueWrite & 0xFF)
	apci, _, ok := ExtractAPCI([]byte{b0, b1})
	if !ok || apci != PropertyValueWrite {
		t.Fatalf("got apci=%v ok=%v", apci, ok)
	}
}

func TestIsSystemBroadcast(t *testing.T) {
	if !IsSystemBroadcast(DomainAddressWrite) {
		t.Fatal("DomainAddressWrite should be a system broadcast service")
	}
	if IsSystemBroadcast(GroupValueWrite) {
		t.Fatal("GroupValueWrite must not be a system broadcast service")
	}
}
