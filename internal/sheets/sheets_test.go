package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/option"
)

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for idx, want := range cases {
		if got := ColumnLetter(idx); got != want {
			t.Fatalf("ColumnLetter(%d) = %q, want %q", idx, got, want)
		}
	}
}

func TestSheetRangeQuotesTitle(t *testing.T) {
	if got := sheetRange("Patients", "A1"); got != "'Patients'!A1" {
		t.Fatalf("unexpected range %q", got)
	}
	if got := sheetRange("O'Brien", ""); got != "'O''Brien'" {
		t.Fatalf("unexpected range %q", got)
	}
}

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend, err := New(context.Background(), "sheet-id",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return backend
}

func TestReadAllConvertsCells(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.Contains(r.URL.Path, "/values/") {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"range":"Patients!A1:C2","majorDimension":"ROWS","values":[["patient_id","phone","password"],["P1",912345678,1234.0]]}`)
	})

	grid, err := backend.ReadAll(context.Background(), "Patients")
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if len(grid) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(grid))
	}
	if grid[1][1] != "912345678" {
		t.Fatalf("expected phone without exponent, got %q", grid[1][1])
	}
	if grid[1][2] != "1234" {
		t.Fatalf("expected password 1234, got %q", grid[1][2])
	}
}

func TestAppendRowUsesRawInput(t *testing.T) {
	var gotOption string
	var body struct {
		Values [][]string `json:"values"`
	}

	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, ":append") {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		gotOption = r.URL.Query().Get("valueInputOption")
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"spreadsheetId":"sheet-id"}`)
	})

	if err := backend.AppendRow(context.Background(), "Reports", []string{"R1", "P1", "7"}); err != nil {
		t.Fatalf("AppendRow returned error: %v", err)
	}
	if gotOption != "RAW" {
		t.Fatalf("expected RAW, got %q", gotOption)
	}
	if len(body.Values) != 1 || len(body.Values[0]) != 3 || body.Values[0][2] != "7" {
		t.Fatalf("unexpected request body %+v", body)
	}
}

func TestNewRequiresSpreadsheetID(t *testing.T) {
	if _, err := New(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty spreadsheet id")
	}
	if _, err := NewFromCredentialsFile(context.Background(), "id", ""); err == nil {
		t.Fatal("expected error for empty credentials path")
	}
}
