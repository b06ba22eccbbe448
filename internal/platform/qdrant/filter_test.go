package qdrant

import (
	"errors"
	"testing"
)

func TestTranslateFilterMapSubset(t *testing.T) {
	filter := map[string]any{
		"result": "1-0",
		"opening_slug": map[string]any{
			"$in": []any{"sicilian_defense", "french_defense"},
		},
	}

	got, err := translateFilterMap(filter)
	if err != nil {
		t.Fatalf("translateFilterMap: %v", err)
	}
	if len(got.Must) != 2 {
		t.Fatalf("must length: want=2 got=%d", len(got.Must))
	}

	resultCond := findConditionByKey(got.Must, "result")
	if resultCond == nil {
		t.Fatalf("missing result condition")
	}
	resultMatch, ok := resultCond["match"].(map[string]any)
	if !ok || resultMatch["value"] != "1-0" {
		t.Fatalf("result match: got=%v", resultCond["match"])
	}

	slugCond := findConditionByKey(got.Must, "opening_slug")
	if slugCond == nil {
		t.Fatalf("missing opening_slug condition")
	}
	slugMatch, ok := slugCond["match"].(map[string]any)
	if !ok {
		t.Fatalf("opening_slug match type: got=%T", slugCond["match"])
	}
	anyVals, ok := slugMatch["any"].([]any)
	if !ok {
		t.Fatalf("opening_slug any type: got=%T", slugMatch["any"])
	}
	if len(anyVals) != 2 || anyVals[0] != "sicilian_defense" || anyVals[1] != "french_defense" {
		t.Fatalf("opening_slug any values: got=%v", anyVals)
	}
}

func TestTranslateFilterMapRangeOperators(t *testing.T) {
	got, err := translateFilterMap(map[string]any{
		"white_rating": map[string]any{
			"$gte": 2400,
			"$lte": 2800,
		},
	})
	if err != nil {
		t.Fatalf("translateFilterMap: %v", err)
	}
	cond := findConditionByKey(got.Must, "white_rating")
	if cond == nil {
		t.Fatalf("missing white_rating condition")
	}
	rng, ok := cond["range"].(map[string]any)
	if !ok {
		t.Fatalf("range type: got=%T", cond["range"])
	}
	if rng["gte"] != 2400 || rng["lte"] != 2800 {
		t.Fatalf("range bounds: got=%v", rng)
	}
}

func TestTranslateFilterMapUnsupportedOperator(t *testing.T) {
	_, err := translateFilterMap(map[string]any{
		"result": map[string]any{
			"$regex": "1-.",
		},
	})
	if err == nil {
		t.Fatalf("translateFilterMap: expected error, got nil")
	}

	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if opErr.Code != OperationErrorUnsupportedFilter {
		t.Fatalf("error code: want=%q got=%q", OperationErrorUnsupportedFilter, opErr.Code)
	}
}

func findConditionByKey(items []any, key string) map[string]any {
	for _, raw := range items {
		cond, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if condKey, _ := cond["key"].(string); condKey == key {
			return cond
		}
	}
	return nil
}
