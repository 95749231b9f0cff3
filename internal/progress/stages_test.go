package progress

import "testing"

func TestCalculateProgress(t *testing.T) {
	cases := []struct {
		name  string
		stage Stage
		intra float64
		want  float64
	}{
		{"initializing start", StageInitializing, 0, 0},
		{"first weighted stage halfway", StageAudioExtraction, 50, 10},
		{"first weighted stage done", StageAudioExtraction, 100, 20},
		{"compression start includes prefix", StageAudioCompression, 0, 20},
		{"generate content halfway", StageGenerateContent, 50, 50},
		{"segmentation done", StageSemanticSegmentation, 100, 95},
		{"completed", StageCompleted, 100, 100},
		{"intra below range clamps", StageGenerateContent, -10, 35},
		{"intra above range clamps", StageGenerateContent, 400, 65},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateProgress(tc.stage, tc.intra)
			if got != tc.want {
				t.Fatalf("CalculateProgress(%q, %v) = %v, want %v", tc.stage, tc.intra, got, tc.want)
			}
		})
	}
}

func TestCalculateProgressErrorStage(t *testing.T) {
	if got := CalculateProgress(StageError, 50); got != ErrorProgress {
		t.Fatalf("error stage progress = %v, want %v", got, ErrorProgress)
	}
}

func TestTerminalStages(t *testing.T) {
	for _, stage := range []Stage{StageCompleted, StageError} {
		if !stage.Terminal() {
			t.Fatalf("stage %q should be terminal", stage)
		}
	}
	for _, stage := range []Stage{StageInitializing, StageAudioExtraction, StageSemanticSegmentation} {
		if stage.Terminal() {
			t.Fatalf("stage %q should not be terminal", stage)
		}
	}
}
