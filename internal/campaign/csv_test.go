package campaign

import (
	"strings"
	"testing"
)

const sampleCSV = `name,email,course,score
Jane Doe,jane@example.com,Go Fundamentals,98
,,,
John Roe,john@example.com,Go Fundamentals,87
Missing Email,,Go Fundamentals,50
`

func sampleMapping() Mapping {
	return ParseMapping([]byte(`{
		"recipient_name": "name",
		"recipient_email": "email",
		"variables": {"course": "course", "score": "score"}
	}`))
}

func TestReadRecipientRows(t *testing.T) {
	recipients, err := ReadRecipientRows(strings.NewReader(sampleCSV), sampleMapping())
	if err != nil {
		t.Fatalf("ReadRecipientRows: %v", err)
	}

	// 空行与缺邮箱的行都被静默跳过
	if len(recipients) != 2 {
		t.Fatalf("len(recipients) = %d, want 2", len(recipients))
	}

	first := recipients[0]
	if first.Name != "Jane Doe" || first.Email != "jane@example.com" {
		t.Errorf("first recipient = %+v", first)
	}
	if first.Data["course"] != "Go Fundamentals" {
		t.Errorf("course = %v", first.Data["course"])
	}
	if first.Data["score"] != "98" {
		t.Errorf("score = %v", first.Data["score"])
	}
}

func TestReadRecipientRowsEmptyFile(t *testing.T) {
	recipients, err := ReadRecipientRows(strings.NewReader(""), sampleMapping())
	if err != nil {
		t.Fatalf("ReadRecipientRows: %v", err)
	}
	if len(recipients) != 0 {
		t.Fatalf("len(recipients) = %d, want 0", len(recipients))
	}
}

func TestCountDataRows(t *testing.T) {
	count, err := CountDataRows(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("CountDataRows: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3 (empty row excluded)", count)
	}
}

func TestParseMappingDefaults(t *testing.T) {
	mapping := ParseMapping(nil)
	if mapping.RecipientName != "recipient_name" || mapping.RecipientEmail != "recipient_email" {
		t.Fatalf("default mapping = %+v", mapping)
	}

	mapping = ParseMapping([]byte("not json"))
	if mapping.RecipientName != "recipient_name" {
		t.Fatalf("invalid json should fall back to defaults, got %+v", mapping)
	}
}

func TestMapRowDropsIncompleteRows(t *testing.T) {
	mapping := sampleMapping()

	if input := mapping.MapRow(map[string]string{"name": "Jane"}); input != nil {
		t.Errorf("row without email should be dropped, got %+v", input)
	}
	if input := mapping.MapRow(map[string]string{"email": "jane@example.com"}); input != nil {
		t.Errorf("row without name should be dropped, got %+v", input)
	}
}
