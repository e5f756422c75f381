package models

import (
	"reflect"
	"testing"
)

func TestSplitCredentials(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"k1", []string{"k1"}},
		{"k1,k2", []string{"k1", "k2"}},
		{"k1\nk2\r\nk3", []string{"k1", "k2", "k3"}},
		{" k1 , , k2 ,", []string{"k1", "k2"}},
	}
	for _, tc := range cases {
		got := SplitCredentials(tc.in)
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitCredentials(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestModelEndpointSet(t *testing.T) {
	var m Model
	if m.HasEndpoint("CHAT") {
		t.Fatalf("fresh model must have no endpoints")
	}
	m.DetectedEndpoints = m.WithEndpoint("CHAT")
	m.DetectedEndpoints = m.WithEndpoint("CLAUDE")
	m.DetectedEndpoints = m.WithEndpoint("CHAT") // set semantics
	if got := m.EndpointList(); len(got) != 2 {
		t.Fatalf("expected 2 endpoints, got %v", got)
	}
	if !m.HasEndpoint("CHAT") || !m.HasEndpoint("CLAUDE") || m.HasEndpoint("GEMINI") {
		t.Fatalf("unexpected endpoint membership %v", m.EndpointList())
	}
}

func TestProxyKeyAllows(t *testing.T) {
	all := ProxyKey{AllowAllModels: true}
	if !all.Allows(1, 2) {
		t.Fatalf("allow-all key must allow everything")
	}

	empty := ProxyKey{}
	if empty.Allows(1, 2) {
		t.Fatalf("empty allow-lists must deny")
	}

	scoped := ProxyKey{
		AllowedChannelIDs: EncodeIDList([]uint64{7}),
		AllowedModelIDs:   EncodeIDList([]uint64{42}),
	}
	if !scoped.Allows(7, 999) {
		t.Fatalf("channel membership must allow")
	}
	if !scoped.Allows(999, 42) {
		t.Fatalf("model membership must allow")
	}
	if scoped.Allows(999, 999) {
		t.Fatalf("no membership must deny")
	}
}

func TestEncodeIDMapRoundTrip(t *testing.T) {
	cfg := SchedulerConfig{
		SelectedModelIDs: EncodeIDMap(map[uint64][]uint64{3: {10, 11}}),
	}
	got := cfg.SelectedModels()
	if len(got) != 1 || len(got[3]) != 2 || got[3][0] != 10 {
		t.Fatalf("unexpected round trip %v", got)
	}
}
