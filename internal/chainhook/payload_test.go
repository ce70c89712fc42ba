package chainhook

import (
	"strings"
	"testing"
)

func TestParsePayloadRequiresUUID(t *testing.T) {
	_, err := ParsePayload(strings.NewReader(`{"apply":[],"rollback":[]}`))
	if err == nil {
		t.Fatal("expected error for missing uuid")
	}

	p, err := ParsePayload(strings.NewReader(`{"uuid":"u1","apply":[{"block_identifier":{"index":42,"hash":"0xb"},"transactions":[]}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.UUID != "u1" || len(p.Apply) != 1 || p.Apply[0].BlockIdentifier.Index != 42 {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"u5000000", 5000000, false},
		{"12345", 12345, false},
		{" u7 ", 7, false},
		{"", 0, true},
		{"u-1", 0, true},
		{"five", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseAmount(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
}
