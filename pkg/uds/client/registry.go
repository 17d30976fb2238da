package client

import "sync"

// ResponseRegistry dispatches a positive response's payload to exactly
// one observer per response SID. Grounded on response_registry.c's
// linear-scan SID table, realized with a map as the idiomatic Go
// substitute; the overwrite-on-reregister / exactly-one-handler-per-SID
// contract is unchanged.
type ResponseRegistry struct {
	mu       sync.Mutex
	handlers map[byte]ResponseHandler
}

// NewResponseRegistry constructs an empty registry.
func NewResponseRegistry() *ResponseRegistry {
	return &ResponseRegistry{handlers: make(map[byte]ResponseHandler)}
}

// Register installs handler for responseSID, replacing any previously
// registered handler for that SID.
func (r *ResponseRegistry) Register(responseSID byte, handler ResponseHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[responseSID] = handler
}

// Unregister removes responseSID's handler, if any.
func (r *ResponseRegistry) Unregister(responseSID byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, responseSID)
}

// Dispatch invokes responseSID's handler with payload, if one is
// registered.
func (r *ResponseRegistry) Dispatch(responseSID byte, payload []byte) {
	r.mu.Lock()
	handler, ok := r.handlers[responseSID]
	r.mu.Unlock()
	if ok {
		handler(payload)
	}
}
