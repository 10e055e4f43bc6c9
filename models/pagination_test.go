package models_test

import (
	"testing"

	"github.com/mmdatafocus/benefits_backend/models"
)

func TestCursorRoundTrip(t *testing.T) {
	encoded := models.EncodeCursor("42")
	decoded, err := models.DecodeCursor(&encoded)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if decoded != "42" {
		t.Fatalf("DecodeCursor = %q, expected \"42\"", decoded)
	}

	// nil cursor decodes to the zero value, not an error
	decoded, err = models.DecodeCursor(nil)
	if err != nil || decoded != "" {
		t.Fatalf("DecodeCursor(nil) = (%q, %v)", decoded, err)
	}
}

func TestCompositeCursorRoundTrip(t *testing.T) {
	encoded := models.EncodeCompositeCursor("2026-03-10 11:00:00", 123)
	createdAt, id := models.DecodeCompositeCursor(&encoded)
	if createdAt != "2026-03-10 11:00:00" || id != 123 {
		t.Fatalf("DecodeCompositeCursor = (%q, %d)", createdAt, id)
	}
}

func TestDecodeCompositeCursorMalformed(t *testing.T) {
	for _, in := range []string{"", "not-base64!", models.EncodeCursor("no-separator"), models.EncodeCursor("a|b|c"), models.EncodeCursor("x|nan")} {
		in := in
		createdAt, id := models.DecodeCompositeCursor(&in)
		if createdAt != "" || id != 0 {
			t.Fatalf("DecodeCompositeCursor(%q) = (%q, %d), expected zero values", in, createdAt, id)
		}
	}
}
