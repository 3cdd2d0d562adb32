package sse

import (
	"context"
	"sync"

	"ms-lottery/internal/models"
)

// clientBuffer is how many events a slow client may lag behind before
// events are dropped for it.
const clientBuffer = 10

// TicketEventEmitter fans ticket events out to the SSE clients of their
// owner.
type TicketEventEmitter struct {
	clients     map[string][]chan models.TicketEventDto
	clientMutex sync.RWMutex
}

func NewTicketEventEmitter() *TicketEventEmitter {
	return &TicketEventEmitter{
		clients: make(map[string][]chan models.TicketEventDto),
	}
}

// Subscribe registers a client for ownerID. The channel is closed once ctx
// is done.
func (e *TicketEventEmitter) Subscribe(ctx context.Context, ownerID string) <-chan models.TicketEventDto {
	clientChan := make(chan models.TicketEventDto, clientBuffer)

	e.clientMutex.Lock()
	e.clients[ownerID] = append(e.clients[ownerID], clientChan)
	e.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeClient(ownerID, clientChan)
	}()

	return clientChan
}

// Emit broadcasts evt to every client of its owner without blocking.
func (e *TicketEventEmitter) Emit(evt models.TicketEventDto) {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()

	for _, clientChan := range e.clients[evt.OwnerID] {
		select {
		case clientChan <- evt:
		default:
			// buffer full, the client misses this one
		}
	}
}

// HandleTicketEvent lets the emitter sit behind the Kafka consumer.
func (e *TicketEventEmitter) HandleTicketEvent(_ context.Context, evt models.TicketEventDto) error {
	e.Emit(evt)
	return nil
}

func (e *TicketEventEmitter) removeClient(ownerID string, clientChan chan models.TicketEventDto) {
	e.clientMutex.Lock()
	defer e.clientMutex.Unlock()

	clients := e.clients[ownerID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[ownerID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.clients[ownerID]) == 0 {
		delete(e.clients, ownerID)
	}
}

// ClientCount returns the number of clients currently subscribed for ownerID.
func (e *TicketEventEmitter) ClientCount(ownerID string) int {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()
	return len(e.clients[ownerID])
}
