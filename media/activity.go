package media

// PipelineActivity is the set of per-pipeline enable flags. It is mutated
// only through the session's single update path; observers receive change
// notifications rather than reading ambient globals.
type PipelineActivity struct {
	Video      bool `json:"video"`
	Audio      bool `json:"audio"`
	Microphone bool `json:"microphone"`
	Gamepad    bool `json:"gamepad"`
}
