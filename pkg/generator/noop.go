package generator

// NoopLifecycle is embeddable by a Generator implementation that does not
// need one or more of the optional lifecycle hooks.
type NoopLifecycle struct{}

func (NoopLifecycle) OnStart()    {}
func (NoopLifecycle) OnStop()     {}
func (NoopLifecycle) OnFinished() {}

// NoopCustomSettings is embeddable by a Generator implementation that
// takes no custom configuration.
type NoopCustomSettings struct{}

func (NoopCustomSettings) InitializeCustomSettings(CustomSettings) error { return nil }

// EnqueueBinding is embeddable by a Generator implementation; it stores
// the bound EnqueueFunc and exposes it to the embedding type as Enqueue.
type EnqueueBinding struct {
	enqueue EnqueueFunc
}

func (b *EnqueueBinding) BindEnqueue(fn EnqueueFunc) { b.enqueue = fn }

// Enqueue calls the bound EnqueueFunc. It panics if called before
// BindEnqueue, which would indicate a core wiring bug rather than
// something a plugin author can recover from.
func (b *EnqueueBinding) Enqueue(jobInput, additionalData []byte) (string, error) {
	if b.enqueue == nil {
		panic("loadedhandler: Enqueue called before BindEnqueue")
	}
	return b.enqueue(jobInput, additionalData)
}
