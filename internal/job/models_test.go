package job

import "testing"

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in   string
		want Status
		ok   bool
	}{
		{"running", StatusRunning, true},
		{"  Completed ", StatusCompleted, true},
		{"CANCELLED", StatusCancelled, true},
		{"", "", false},
		{"paused", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseStatus(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseStatus(%q) = %q/%v, want %q/%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDeriveStatus(t *testing.T) {
	stages := func(statuses ...StageStatus) []Stage {
		out := make([]Stage, len(statuses))
		for i, s := range statuses {
			out[i] = Stage{Status: s}
		}
		return out
	}

	cases := []struct {
		name    string
		current Status
		stages  []Stage
		want    Status
	}{
		{"all completed", StatusRunning, stages(StageCompleted, StageCompleted), StatusCompleted},
		{"one failed", StatusRunning, stages(StageCompleted, StageFailed, StagePending), StatusFailed},
		{"in flight", StatusRunning, stages(StageCompleted, StageProcessing, StagePending), StatusRunning},
		{"failed stage reset clears failure", StatusFailed, stages(StageCompleted, StagePending, StagePending), StatusRunning},
		{"cancelled is sticky", StatusCancelled, stages(StageCompleted, StageCompleted), StatusCancelled},
	}
	for _, tc := range cases {
		if got := DeriveStatus(tc.current, tc.stages); got != tc.want {
			t.Errorf("%s: DeriveStatus = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestOverallProgress(t *testing.T) {
	stages := []Stage{
		{Status: StageCompleted},
		{Status: StageCompleted},
		{Status: StageProcessing, Progress: 90},
		{Status: StagePending},
		{Status: StagePending},
	}
	if got := OverallProgress(stages); got != 40 {
		t.Fatalf("OverallProgress = %d, want 40", got)
	}
	if got := OverallProgress(nil); got != 0 {
		t.Fatalf("OverallProgress(nil) = %d, want 0", got)
	}
}

func TestOverallProgressRounds(t *testing.T) {
	stages := []Stage{
		{Status: StageCompleted},
		{Status: StagePending},
		{Status: StagePending},
	}
	if got := OverallProgress(stages); got != 33 {
		t.Fatalf("OverallProgress = %d, want 33", got)
	}
}

func TestFirstIncompleteStage(t *testing.T) {
	j := &Job{Stages: []Stage{
		{Name: "ingest", Status: StageCompleted},
		{Name: "script", Status: StageFailed},
		{Name: "render", Status: StagePending},
	}}
	if got := j.FirstIncompleteStage(); got == nil || got.Name != "script" {
		t.Fatalf("FirstIncompleteStage = %v, want script", got)
	}

	done := &Job{Stages: []Stage{{Name: "ingest", Status: StageCompleted}}}
	if got := done.FirstIncompleteStage(); got != nil {
		t.Fatalf("FirstIncompleteStage = %v, want nil", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	j := &Job{
		Stages: []Stage{{Name: "script", Output: Payload{"k": "v"}}},
		Result: Payload{"video_url": "u"},
	}
	cp := j.Clone()
	cp.Stages[0].Output["k"] = "mutated"
	cp.Result["video_url"] = "mutated"
	if j.Stages[0].Output["k"] != "v" {
		t.Fatal("stage output aliased between clone and original")
	}
	if j.Result["video_url"] != "u" {
		t.Fatal("result aliased between clone and original")
	}
}
