package consensus

// Observer receives one-way progress notifications. Implementations must not
// block; the engine ignores them for control flow.
type Observer interface {
	StageChanged(stage Stage, status StageStatus)
	RoundStarted(round int)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) StageChanged(Stage, StageStatus) {}

func (NopObserver) RoundStarted(int) {}
