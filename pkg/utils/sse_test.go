package utils

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/faustus/internal/stream"
)

func TestSendDataRecordFramesOneLine(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	if err := SendDataRecord(rec, rec, "one\r\ntwo\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SendDataRecord(rec, rec, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SendDataError(rec, rec, "model\nfailed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SendDataDone(rec, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", got)
	}
	want := "data: one two \ndata: Error:model failed\ndata: [DONE]\n"
	if rec.Body.String() != want {
		t.Fatalf("expected %q, got %q", want, rec.Body.String())
	}
	if !rec.Flushed {
		t.Error("expected records to be flushed")
	}
}

// readRecords parses written records the way the chat client does.
func readRecords(body io.Reader) (string, error) {
	r := stream.NewReader(body)
	for {
		if _, err := r.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return r.Text(), nil
			}
			return "", err
		}
	}
}

func TestSendDataRecordReadsBackThroughReader(t *testing.T) {
	cases := []struct {
		name      string
		fragments []string
		want      string
	}{
		{"markdown", []string{"# Title\n\nFirst paragraph."}, "# Title  First paragraph."},
		{"error marker", []string{"Common failures:\n", "Error: file not found"}, "Common failures:  Error: file not found"},
		{"done marker", []string{"The sentinel is\n", "[DONE]", "\nand then more text"}, "The sentinel is  [DONE] and then more text"},
		{"split words", []string{"Hel", "lo"}, "Hello"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			for _, fragment := range tc.fragments {
				if err := SendDataRecord(rec, rec, fragment); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if err := SendDataDone(rec, rec); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			text, err := readRecords(rec.Body)
			if err != nil {
				t.Fatalf("expected reply to read back, got %v", err)
			}
			if text != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, text)
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, 400, "No messages provided")

	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"error\":\"No messages provided\"}\n" {
		t.Fatalf("unexpected body %q", got)
	}
}
