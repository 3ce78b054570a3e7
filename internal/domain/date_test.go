package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-10-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Date{Year: 2025, Month: time.October, Day: 31}
	if d != want {
		t.Errorf("ParseDate = %+v, want %+v", d, want)
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, s := range []string{"", "2025-13-01", "2025-02-30", "31/10/2025", "2025-10-31T00:00:00Z"} {
		if _, err := ParseDate(s); err == nil {
			t.Errorf("ParseDate(%q) should fail", s)
		}
	}
}

func TestDate_BeforeAfter(t *testing.T) {
	a := Date{Year: 2025, Month: time.January, Day: 31}
	b := Date{Year: 2025, Month: time.February, Day: 1}

	if !a.Before(b) {
		t.Error("a should be before b")
	}
	if a.After(b) {
		t.Error("a should not be after b")
	}
	if !b.After(a) {
		t.Error("b should be after a")
	}
	if a.Before(a) || a.After(a) {
		t.Error("a date is neither before nor after itself")
	}
}

func TestDate_AddDays(t *testing.T) {
	d := Date{Year: 2024, Month: time.February, Day: 28}

	if got := d.AddDays(1); got != (Date{Year: 2024, Month: time.February, Day: 29}) {
		t.Errorf("AddDays(1) = %v", got)
	}
	if got := d.AddDays(2); got != (Date{Year: 2024, Month: time.March, Day: 1}) {
		t.Errorf("AddDays(2) = %v", got)
	}
	if got := d.AddDays(-59); got != (Date{Year: 2023, Month: time.December, Day: 31}) {
		t.Errorf("AddDays(-59) = %v", got)
	}
}

func TestDateOf_DropsTimeOfDay(t *testing.T) {
	ts := time.Date(2025, time.October, 31, 23, 59, 59, 999, time.UTC)
	if got := DateOf(ts); got != (Date{Year: 2025, Month: time.October, Day: 31}) {
		t.Errorf("DateOf = %v", got)
	}
}

func TestDate_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Date{Year: 2025, Month: time.October, Day: 31})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `"2025-10-31"` {
		t.Errorf("Marshal = %s, want %q", b, "2025-10-31")
	}

	b, err = json.Marshal(Date{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "null" {
		t.Errorf("zero date should marshal as null, got %s", b)
	}
}

func TestDate_UnmarshalJSON_RejectsTimestamps(t *testing.T) {
	var d Date
	if err := json.Unmarshal([]byte(`1761868800000`), &d); err == nil {
		t.Error("numeric timestamp should be rejected")
	}
	if err := json.Unmarshal([]byte(`"2025-10-31T10:00:00Z"`), &d); err == nil {
		t.Error("date-time should be rejected")
	}
	if err := json.Unmarshal([]byte(`[2025,10,31]`), &d); err == nil {
		t.Error("array form should be rejected")
	}
}
