package batch

// Progress receives commit events. OnStart gets the Describe line for the
// draft and the number of targets still to process; a resumed commit
// counts only the remaining ones.
type Progress interface {
	OnStart(description string, total int)
	OnProgress(processed, succeeded, failed int)
	OnComplete(succeeded, failed int)
}

// NullProgress discards events.
type NullProgress struct{}

func (NullProgress) OnStart(string, int)      {}
func (NullProgress) OnProgress(int, int, int) {}
func (NullProgress) OnComplete(int, int)      {}
