package utils

// Guard collects cleanups for resources acquired one after another by a constructor that may fail
// part way. Typical use:
//
//	guard := NewGuard()
//	defer guard.OnFail()
//	sub, err := bus.Subscribe(...)
//	if err != nil { return nil, err }
//	guard.AddCleanup(func() { sub.Unsubscribe() })
//	...
//	guard.Success()
//
// Cleanups run in reverse order of registration, and only if Success was never called.
type Guard struct {
	cleanups []func()
	success  bool
}

// NewGuard returns a Guard, optionally seeded with cleanups.
func NewGuard(onFailCleanups ...func()) *Guard {
	return &Guard{cleanups: onFailCleanups}
}

// AddCleanup registers another cleanup to run on failure.
func (guard *Guard) AddCleanup(cleanup func()) {
	guard.cleanups = append(guard.cleanups, cleanup)
}

// OnFail runs the registered cleanups unless Success was called.
func (guard *Guard) OnFail() {
	if guard.success {
		return
	}
	for i := len(guard.cleanups) - 1; i >= 0; i-- {
		guard.cleanups[i]()
	}
}

// Success declares the function succeeded and the "failure" cleanup code does not need to be
// executed.
func (guard *Guard) Success() {
	guard.success = true
}
