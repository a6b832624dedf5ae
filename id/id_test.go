package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/courier/id"
)

func TestNewWebhookIDPrefix(t *testing.T) {
	wid := id.NewWebhookID()
	if wid.Prefix() != id.PrefixWebhook {
		t.Fatalf("prefix = %q, want %q", wid.Prefix(), id.PrefixWebhook)
	}
	if !strings.HasPrefix(wid.String(), "wh_") {
		t.Fatalf("unexpected string form %q", wid.String())
	}
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		s := id.NewDeliveryID().String()
		if seen[s] {
			t.Fatalf("duplicate id %s", s)
		}
		seen[s] = true
	}
}

func TestParseWithPrefixRejectsOtherEntity(t *testing.T) {
	del := id.NewDeliveryID()
	if _, err := id.ParseWebhookID(del.String()); err == nil {
		t.Fatal("expected error parsing a delivery id as a webhook id")
	}
	got, err := id.ParseDeliveryID(del.String())
	if err != nil {
		t.Fatal(err)
	}
	if got != del {
		t.Fatalf("parsed %s, want %s", got, del)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Fatal("expected error for empty string")
	}
}

func TestJSONText(t *testing.T) {
	type wrapper struct {
		ID id.ID `json:"id"`
	}
	in := wrapper{ID: id.NewWebhookID()}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out wrapper
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID != in.ID {
		t.Fatalf("got %s, want %s", out.ID, in.ID)
	}
}

func TestScan(t *testing.T) {
	wid := id.NewWebhookID()
	var got id.ID
	if err := got.Scan(wid.String()); err != nil {
		t.Fatal(err)
	}
	if got != wid {
		t.Fatalf("got %s, want %s", got, wid)
	}
	if err := got.Scan(nil); err != nil || !got.IsNil() {
		t.Fatalf("scan nil: %v, nil=%v", err, got.IsNil())
	}
	if err := got.Scan(42); err == nil {
		t.Fatal("expected error scanning int")
	}
}
