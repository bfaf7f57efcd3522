package builtin

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestCalculateHandler(t *testing.T) {
	result, err := calculateHandler(context.Background(), `{"expression":"2+2*3"}`)
	if err != nil {
		t.Fatalf("calculateHandler: %v", err)
	}
	var r calculateResult
	if err := json.Unmarshal([]byte(result), &r); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if r.Expression != "2+2*3" || r.Result != 8 {
		t.Errorf("result = %+v, want 2+2*3 = 8", r)
	}
}

func TestCalculateHandlerEmptyExpression(t *testing.T) {
	if _, err := calculateHandler(context.Background(), `{}`); err == nil {
		t.Error("empty expression should fail")
	}
}

func TestCalculateHandlerDivisionByZero(t *testing.T) {
	if _, err := calculateHandler(context.Background(), `{"expression":"1/0"}`); err == nil {
		t.Error("division by zero should fail")
	}
}

func TestTimeHandler(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	orig := now
	now = func() time.Time { return fixed }
	defer func() { now = orig }()

	result, err := timeHandler(context.Background(), `{"timezone":"UTC"}`)
	if err != nil {
		t.Fatalf("timeHandler: %v", err)
	}
	var r timeResult
	if err := json.Unmarshal([]byte(result), &r); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if r.Time != "2025-03-14 09:26:53" {
		t.Errorf("time = %q", r.Time)
	}
	if r.Timezone != "UTC" || r.Weekday != "Friday" {
		t.Errorf("zone/weekday = %q/%q", r.Timezone, r.Weekday)
	}
}

func TestTimeHandlerUnknownZone(t *testing.T) {
	if _, err := timeHandler(context.Background(), `{"timezone":"Mars/Olympus"}`); err == nil {
		t.Error("unknown timezone should fail")
	}
}

func TestWeatherHandlerKnownCity(t *testing.T) {
	result, err := weatherHandler(context.Background(), `{"city":"Shanghai"}`)
	if err != nil {
		t.Fatalf("weatherHandler: %v", err)
	}
	var r weatherResult
	if err := json.Unmarshal([]byte(result), &r); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if r.City != "Shanghai" || r.Condition != "light rain" {
		t.Errorf("result = %+v", r)
	}
}

func TestWeatherHandlerUnknownCityGetsGenericReport(t *testing.T) {
	result, err := weatherHandler(context.Background(), `{"city":"Atlantis"}`)
	if err != nil {
		t.Fatalf("weatherHandler: %v", err)
	}
	var r weatherResult
	if err := json.Unmarshal([]byte(result), &r); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if r.City != "Atlantis" || r.Condition != "clear" {
		t.Errorf("result = %+v", r)
	}
}

func TestToolsAreRegistrable(t *testing.T) {
	ts := Tools()
	if len(ts) != 3 {
		t.Fatalf("len(Tools()) = %d, want 3", len(ts))
	}
	names := map[string]bool{}
	for _, tool := range ts {
		if tool.Handler == nil {
			t.Errorf("tool %q has nil handler", tool.Definition.Name)
		}
		names[tool.Definition.Name] = true
	}
	for _, want := range []string{"calculate", "get_time", "get_weather"} {
		if !names[want] {
			t.Errorf("missing tool %q", want)
		}
	}
}
