package progress

// Stage identifies a phase of a long-running job. The pipeline stages are
// ordered and weighted so a blended overall percentage can be derived from
// coarse stage transitions plus fine-grained intra-stage progress.
type Stage string

const (
	StageInitializing         Stage = "initializing"
	StageAudioExtraction      Stage = "audio_extraction"
	StageAudioCompression     Stage = "audio_compression"
	StageBytesConversion      Stage = "bytes_conversion"
	StageGenerateContent      Stage = "generateContent"
	StageSemanticSegmentation Stage = "semantic_segmentation"
	StageCompleted            Stage = "completed"

	// StageError is terminal and sits outside the weighted ordering.
	StageError Stage = "error"
)

// ErrorProgress is the sentinel progress value stored for unrecoverable
// failures.
const ErrorProgress = -1

var stageOrder = []Stage{
	StageInitializing,
	StageAudioExtraction,
	StageAudioCompression,
	StageBytesConversion,
	StageGenerateContent,
	StageSemanticSegmentation,
	StageCompleted,
}

var stageWeights = map[Stage]float64{
	StageInitializing:         0,
	StageAudioExtraction:      20,
	StageAudioCompression:     10,
	StageBytesConversion:      5,
	StageGenerateContent:      30,
	StageSemanticSegmentation: 30,
	StageCompleted:            5,
}

// Terminal reports whether the stage ends the job lifecycle.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// CalculateProgress blends the weights of all stages preceding the current one
// with the fractional weight of the current stage. intraStage is a 0-100
// percentage within the current stage. An unknown stage contributes nothing
// beyond the completed prefix; StageError always maps to ErrorProgress.
func CalculateProgress(stage Stage, intraStage float64) float64 {
	if stage == StageError {
		return ErrorProgress
	}
	if intraStage < 0 {
		intraStage = 0
	} else if intraStage > 100 {
		intraStage = 100
	}
	total := 0.0
	for _, s := range stageOrder {
		if s == stage {
			total += stageWeights[s] * intraStage / 100
			return clampPercent(total)
		}
		total += stageWeights[s]
	}
	return clampPercent(total)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
