package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vietddude/chainevents/internal/infra/rpc"
)

// errClosed is returned for calls on a session whose socket has gone away.
var errClosed = errors.New("websocket session closed")

type wsMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpc.RPCError   `json:"error,omitempty"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

// wsSession is a JSON-RPC 2.0 session over one websocket. A single reader goroutine
// routes responses by id and notifications by subscription id.
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan wsMessage
	subs    map[string]chan json.RawMessage
	err     error

	done chan struct{}
}

func dialSession(ctx context.Context, url string) (*wsSession, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	s := &wsSession{
		conn:    conn,
		pending: make(map[uint64]chan wsMessage),
		subs:    make(map[string]chan json.RawMessage),
		done:    make(chan struct{}),
	}
	go s.read()
	return s, nil
}

// Done is closed when the socket fails or is closed.
func (s *wsSession) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session.
func (s *wsSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSession) Close() {
	_ = s.conn.Close()
	<-s.done
}

// Call sends a request and decodes its result into out.
func (s *wsSession) Call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	reply := make(chan wsMessage, 1)

	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return errClosed
	}
	s.nextID++
	id := s.nextID
	s.pending[id] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	s.writeMu.Lock()
	err := s.conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("%s: %w", method, errClosed)
	case msg := <-reply:
		if msg.Error != nil {
			return msg.Error
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("%s: parse result: %w", method, err)
		}
		return nil
	}
}

// Subscribe starts a subscription and returns its id. Notifications that arrive while
// the channel is full are dropped; subscribers only use them as a signal.
func (s *wsSession) Subscribe(ctx context.Context, method string, params []any) (string, <-chan json.RawMessage, error) {
	var id string
	if err := s.Call(ctx, method, params, &id); err != nil {
		return "", nil, err
	}
	ch := make(chan json.RawMessage, 16)
	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()
	return id, ch, nil
}

// Unsubscribe stops routing notifications for id and tells the node to drop it.
// On a dead session only the local route is removed.
func (s *wsSession) Unsubscribe(ctx context.Context, method, id string) error {
	s.mu.Lock()
	delete(s.subs, id)
	dead := s.err != nil
	s.mu.Unlock()
	if dead {
		return nil
	}
	return s.Call(ctx, method, []any{id}, nil)
}

func (s *wsSession) subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *wsSession) read() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		s.mu.Lock()
		switch {
		case msg.ID != nil:
			if reply, ok := s.pending[*msg.ID]; ok {
				reply <- msg
			}
		case msg.Params != nil:
			if ch, ok := s.subs[msg.Params.Subscription]; ok {
				select {
				case ch <- msg.Params.Result:
				default:
				}
			}
		}
		s.mu.Unlock()
	}
}
