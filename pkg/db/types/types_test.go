package dbtypes

import (
	"encoding/json"
	"testing"
)

func TestJSONValueAndScan(t *testing.T) {
	doc := MustJSON(map[string]any{"webinar_ids": []string{"123"}})
	v, err := doc.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if _, ok := v.(string); !ok {
		t.Fatalf("expected string driver value, got %T", v)
	}

	var scanned JSON
	if err := scanned.Scan([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	var out struct{ A int }
	if err := scanned.Decode(&out); err != nil || out.A != 1 {
		t.Fatalf("decode: %v %+v", err, out)
	}

	if _, err := JSON("{bad").Value(); err == nil {
		t.Fatal("expected invalid json to fail")
	}
	if v, _ := JSON(nil).Value(); v != nil {
		t.Fatalf("empty json should be NULL, got %v", v)
	}
}

func TestJSONMarshalsInline(t *testing.T) {
	payload := struct {
		Data JSON `json:"data"`
	}{Data: JSON(`{"k":"v"}`)}
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"data":{"k":"v"}}` {
		t.Fatalf("unexpected json %s", b)
	}
}

func TestStringListRoundTripThroughDriver(t *testing.T) {
	list := StringList{"record 12: missing email", "record 40: bad timestamp"}
	v, err := list.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	var scanned StringList
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(scanned) != 2 || scanned[1] != "record 40: bad timestamp" {
		t.Fatalf("unexpected list %v", scanned)
	}
	if v, _ := StringList(nil).Value(); v != nil {
		t.Fatalf("empty list should be NULL")
	}
}
