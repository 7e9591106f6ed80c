package node

// Lifecycle is a service run by the node. Start spawns the goroutines of
// the service; Stop blocks until they are gone.
type Lifecycle interface {
	Start() error
	Stop() error
}
