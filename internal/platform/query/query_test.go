package query

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestQueryBasic(t *testing.T) {
	q := New("medical_bills", "id, status")
	q.Eq("user_id", "u-1")
	q.OrderBy("created_at DESC")

	countSQL := q.CountSQL()
	if countSQL != "SELECT COUNT(*) FROM medical_bills WHERE 1=1 AND user_id = $1" {
		t.Errorf("unexpected count SQL: %s", countSQL)
	}

	dataSQL := q.DataSQL()
	if !strings.Contains(dataSQL, "ORDER BY created_at DESC LIMIT $2 OFFSET $3") {
		t.Errorf("unexpected data SQL: %s", dataSQL)
	}

	args := q.DataArgs(10, 20)
	if len(args) != 3 || args[0] != "u-1" || args[1] != 10 || args[2] != 20 {
		t.Errorf("unexpected data args: %v", args)
	}
}

func TestQueryApplyParams(t *testing.T) {
	filters := map[string]Filter{
		"status":   {Type: FilterEnum, Column: "status"},
		"provider": {Type: FilterString, Column: "provider_name"},
		"date":     {Type: FilterDate, Column: "bill_date"},
		"amount":   {Type: FilterNumber, Column: "total_amount"},
		"bill":     {Type: FilterRef, Column: "bill_id"},
		"public":   {Type: FilterBool, Column: "is_public"},
	}

	t.Run("enum list uses ANY", func(t *testing.T) {
		q := New("medical_bills", "id")
		q.ApplyParams(map[string]string{"status": "analyzed,disputed"}, filters)
		if !strings.Contains(q.CountSQL(), "status = ANY($1)") {
			t.Errorf("unexpected SQL: %s", q.CountSQL())
		}
		vals, ok := q.CountArgs()[0].([]string)
		if !ok || len(vals) != 2 {
			t.Errorf("unexpected args: %v", q.CountArgs())
		}
	})

	t.Run("string contains modifier", func(t *testing.T) {
		q := New("medical_bills", "id")
		q.ApplyParams(map[string]string{"provider:contains": "mercy"}, filters)
		if q.CountArgs()[0] != "%mercy%" {
			t.Errorf("unexpected args: %v", q.CountArgs())
		}
	})

	t.Run("string prefix escapes wildcards", func(t *testing.T) {
		q := New("medical_bills", "id")
		q.ApplyParams(map[string]string{"provider": "50%_off"}, filters)
		if q.CountArgs()[0] != `50\%\_off%` {
			t.Errorf("unexpected args: %v", q.CountArgs())
		}
	})

	t.Run("date eq covers whole day", func(t *testing.T) {
		q := New("medical_bills", "id")
		q.ApplyParams(map[string]string{"date": "2026-03-01"}, filters)
		if len(q.CountArgs()) != 2 {
			t.Fatalf("expected 2 args, got %v", q.CountArgs())
		}
		start := q.CountArgs()[0].(time.Time)
		if start.Day() != 1 || start.Month() != time.March {
			t.Errorf("unexpected start %v", start)
		}
	})

	t.Run("number with prefix", func(t *testing.T) {
		q := New("medical_bills", "id")
		q.ApplyParams(map[string]string{"amount": "ge1000.50"}, filters)
		if !strings.Contains(q.CountSQL(), "total_amount >= $1::numeric") {
			t.Errorf("unexpected SQL: %s", q.CountSQL())
		}
		if q.CountArgs()[0] != "1000.50" {
			t.Errorf("unexpected args: %v", q.CountArgs())
		}
	})

	t.Run("invalid ref matches nothing", func(t *testing.T) {
		q := New("generated_documents", "id")
		q.ApplyParams(map[string]string{"bill": "not-a-uuid"}, filters)
		if !strings.Contains(q.CountSQL(), "1=0") || len(q.CountArgs()) != 0 {
			t.Errorf("unexpected SQL: %s args %v", q.CountSQL(), q.CountArgs())
		}
	})

	t.Run("valid ref binds uuid", func(t *testing.T) {
		id := uuid.New()
		q := New("generated_documents", "id")
		q.ApplyParams(map[string]string{"bill": id.String()}, filters)
		if q.CountArgs()[0] != id {
			t.Errorf("unexpected args: %v", q.CountArgs())
		}
	})

	t.Run("bool", func(t *testing.T) {
		q := New("study_groups", "id")
		q.ApplyParams(map[string]string{"public": "true"}, filters)
		if q.CountArgs()[0] != true {
			t.Errorf("unexpected args: %v", q.CountArgs())
		}
	})

	t.Run("unknown params ignored and order stable", func(t *testing.T) {
		q := New("medical_bills", "id")
		q.ApplyParams(map[string]string{"status": "uploaded", "provider": "a", "limit": "5"}, filters)
		want := "SELECT COUNT(*) FROM medical_bills WHERE 1=1 AND provider_name ILIKE $1 AND status = $2"
		if q.CountSQL() != want {
			t.Errorf("got %s, want %s", q.CountSQL(), want)
		}
	})
}

func TestApplySort(t *testing.T) {
	filters := map[string]Filter{
		"priority": {Column: "priority"},
		"created":  {Column: "created_at"},
	}

	q := New("reduction_strategies", "id")
	q.ApplySort("priority,-created", "created_at DESC", filters)
	if !strings.Contains(q.DataSQL(), "ORDER BY priority ASC, created_at DESC") {
		t.Errorf("unexpected SQL: %s", q.DataSQL())
	}

	q = New("reduction_strategies", "id")
	q.ApplySort("bogus", "priority ASC", filters)
	if !strings.Contains(q.DataSQL(), "ORDER BY priority ASC") {
		t.Errorf("expected default order: %s", q.DataSQL())
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in     string
		prefix Prefix
		value  string
	}{
		{"gt100", PrefixGt, "100"},
		{"LE2026-01-01", PrefixLe, "2026-01-01"},
		{"100", PrefixEq, "100"},
		{"x", PrefixEq, "x"},
	}
	for _, tt := range tests {
		got := ParseValue(tt.in)
		if got.Prefix != tt.prefix || got.Value != tt.value {
			t.Errorf("ParseValue(%q) = %+v", tt.in, got)
		}
	}
}

func TestParamsFromContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/bills?status=analyzed&status=disputed&provider=x", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	params := ParamsFromContext(c)
	if params["status"] != "analyzed" || params["provider"] != "x" {
		t.Errorf("unexpected params: %v", params)
	}
}
