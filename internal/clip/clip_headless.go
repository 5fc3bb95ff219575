package clip

// headlessBackend is a no-op clipboard backend for environments without a
// display server (headless Linux servers, containers, etc.).
// It never produces Watch events and silently discards writes.
type headlessBackend struct {
	watchCh chan struct{}
}

// Headless returns the no-op backend.
func Headless() Backend { return &headlessBackend{watchCh: make(chan struct{})} }

func (b *headlessBackend) Name() string           { return "headless (no-op)" }
func (b *headlessBackend) Read() ([]Item, error)  { return nil, nil }
func (b *headlessBackend) Write(_ []Item) error   { return nil }
func (b *headlessBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *headlessBackend) Close()                 {}
