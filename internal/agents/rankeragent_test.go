package agents

import "testing"

func TestSelectByHeuristic_ForcesBestNonEmptyWhenNoneMeetFloor(t *testing.T) {
	scored := []scoredResult{
		{result: SubQueryResult{SubQuery: SubQuery{ID: "sq-1"}, Documents: []Document{{ID: "d1"}}}, score: 0.1},
		{result: SubQueryResult{SubQuery: SubQuery{ID: "sq-2"}}, score: 0.05},
	}
	ids, _ := selectByHeuristic(scored)
	if len(ids) != 1 || ids[0] != "sq-1" {
		t.Fatalf("expected forced selection of sq-1 (only non-empty result), got %+v", ids)
	}
}

func TestSelectByHeuristic_CapsAtThreeResults(t *testing.T) {
	scored := []scoredResult{
		{result: SubQueryResult{SubQuery: SubQuery{ID: "sq-1"}}, score: 0.9},
		{result: SubQueryResult{SubQuery: SubQuery{ID: "sq-2"}}, score: 0.8},
		{result: SubQueryResult{SubQuery: SubQuery{ID: "sq-3"}}, score: 0.7},
		{result: SubQueryResult{SubQuery: SubQuery{ID: "sq-4"}}, score: 0.6},
	}
	ids, confidence := selectByHeuristic(scored)
	if len(ids) != 3 {
		t.Fatalf("expected at most 3 selected ids, got %d (%+v)", len(ids), ids)
	}
	if confidence <= 0 || confidence > 1 {
		t.Errorf("expected confidence in (0,1], got %v", confidence)
	}
}

func TestScoreResults_Formula(t *testing.T) {
	results := []SubQueryResult{
		{SubQuery: SubQuery{ID: "sq-1"}, Relevance: 1.0, Documents: make([]Document, 5)},
	}
	scored := scoreResults(results)
	// 0.5*1.0 + 0.3*1.0 + 0.2 (no error) = 1.0
	if scored[0].score < 0.999 || scored[0].score > 1.001 {
		t.Errorf("expected score ~1.0, got %v", scored[0].score)
	}
}

func TestBuildFindings_ConcatenatesSelectedOnly(t *testing.T) {
	results := []SubQueryResult{
		{SubQuery: SubQuery{ID: "sq-1", Query: "q1"}, Documents: []Document{{ID: "d1", Title: "T1", Content: "hello world"}}},
		{SubQuery: SubQuery{ID: "sq-2", Query: "q2"}, Documents: []Document{{ID: "d2", Title: "T2", Content: "unselected"}}},
	}
	findings := buildFindings(results, []string{"sq-1"}, 0.7, "test")
	if len(findings.Citations) != 1 {
		t.Fatalf("expected exactly one citation from the selected sub-query, got %d", len(findings.Citations))
	}
	if findings.Citations[0].Title != "T1" {
		t.Errorf("expected citation from sq-1, got %+v", findings.Citations[0])
	}
}
