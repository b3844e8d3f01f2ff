// Package wsserver implements the WebSocket subscription transport
// (spec.md §6 "WebSocket subscriptions"): signatureSubscribe/Unsubscribe,
// logsSubscribe/Unsubscribe and slotSubscribe, fed by the commit
// notifications the pipeline and block producer publish through
// internal/storage/cache's redis pub/sub channel. Payload and
// notification shapes mirror the reference chain's JSON-RPC pubsub
// schema bit-for-bit (spec.md §6).
package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"

	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/storage/cache"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// request is one inbound JSON-RPC 2.0 subscribe/unsubscribe call.
type request struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// ackResponse acknowledges a (un)subscribe call with its assigned id.
type ackResponse struct {
	Jsonrpc string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result"`
}

// notification is a server-pushed event for an active subscription.
type notification struct {
	Jsonrpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  notifParams `json:"params"`
}

type notifParams struct {
	Result       interface{} `json:"result"`
	Subscription uint64      `json:"subscription"`
}

type subscriptionKind int

const (
	kindSignature subscriptionKind = iota
	kindLogs
	kindSlot
)

type subscription struct {
	kind         subscriptionKind
	signature    string // kindSignature
	logsMentions string // kindLogs: "" means "all", else a single mentioned pubkey
}

// Server upgrades a tenant-scoped GET /rpc/{tenant} to a websocket and
// fans out commit notifications to whichever subscriptions match.
type Server struct {
	cache *cache.Cache
	store *storage.Tagged
}

func New(c *cache.Cache, store *storage.Tagged) *Server {
	return &Server{cache: c, store: store}
}

// ServeTenant upgrades the connection and runs it until the client
// disconnects or the request context is cancelled.
func (s *Server) ServeTenant(w http.ResponseWriter, r *http.Request, t tenant.ID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("wsserver: upgrade failed", "tenant", t, "err", err)
		return
	}
	defer conn.Close()

	sess := &session{
		conn:   conn,
		subs:   make(map[uint64]subscription),
		tenant: t,
		store:  s.store,
	}
	defer sess.close()

	if s.cache != nil {
		go sess.pump(s.cache, t)
	}
	sess.readLoop()
}

// session is one connected client: its active subscriptions and the
// single writer mutex gorilla/websocket requires for concurrent writes
// from the pump goroutine and the read loop's acks.
type session struct {
	conn   *websocket.Conn
	tenant tenant.ID
	store  *storage.Tagged

	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[uint64]subscription
	nextID  uint64
	closed  atomic.Bool
}

func (s *session) close() {
	s.closed.Store(true)
}

func (s *session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *session) readLoop() {
	for {
		var req request
		if err := s.conn.ReadJSON(&req); err != nil {
			return
		}
		s.handle(req)
	}
}

func (s *session) handle(req request) {
	switch req.Method {
	case "signatureSubscribe":
		s.subscribeSignature(req)
	case "signatureUnsubscribe":
		s.unsubscribe(req)
	case "logsSubscribe":
		s.subscribeLogs(req)
	case "logsUnsubscribe":
		s.unsubscribe(req)
	case "slotSubscribe":
		s.subscribeSlot(req)
	default:
		_ = s.writeJSON(ackResponse{Jsonrpc: "2.0", ID: req.ID, Result: nil})
	}
}

func (s *session) addSub(sub subscription) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[id] = sub
	return id
}

func (s *session) subscribeSignature(req request) {
	var params []json.RawMessage
	_ = json.Unmarshal(req.Params, &params)
	var sig string
	if len(params) > 0 {
		_ = json.Unmarshal(params[0], &sig)
	}
	id := s.addSub(subscription{kind: kindSignature, signature: sig})
	_ = s.writeJSON(ackResponse{Jsonrpc: "2.0", ID: req.ID, Result: id})
}

// logsSubscribeFilter mirrors the reference chain's filter shape: either
// the bare string "all" or {"mentions": [pubkey]}.
type logsSubscribeFilter struct {
	Mentions []string `json:"mentions"`
}

func (s *session) subscribeLogs(req request) {
	var params []json.RawMessage
	_ = json.Unmarshal(req.Params, &params)
	var mentions string
	if len(params) > 0 {
		var filter logsSubscribeFilter
		if err := json.Unmarshal(params[0], &filter); err == nil && len(filter.Mentions) > 0 {
			mentions = filter.Mentions[0]
		}
	}
	id := s.addSub(subscription{kind: kindLogs, logsMentions: mentions})
	_ = s.writeJSON(ackResponse{Jsonrpc: "2.0", ID: req.ID, Result: id})
}

func (s *session) subscribeSlot(req request) {
	id := s.addSub(subscription{kind: kindSlot})
	_ = s.writeJSON(ackResponse{Jsonrpc: "2.0", ID: req.ID, Result: id})
}

func (s *session) unsubscribe(req request) {
	var params []uint64
	_ = json.Unmarshal(req.Params, &params)
	ok := false
	if len(params) > 0 {
		s.mu.Lock()
		if _, present := s.subs[params[0]]; present {
			delete(s.subs, params[0])
			ok = true
		}
		s.mu.Unlock()
	}
	_ = s.writeJSON(ackResponse{Jsonrpc: "2.0", ID: req.ID, Result: ok})
}

// pump subscribes to the shared commit channel and dispatches every
// notification for this tenant to whichever of the session's
// subscriptions match, until the session closes or the pub/sub errors.
func (s *session) pump(c *cache.Cache, t tenant.ID) {
	ps := c.Subscribe(context.Background())
	defer ps.Close()
	ch := ps.Channel()
	for msg := range ch {
		if s.closed.Load() {
			return
		}
		var note cache.CommitNotification
		if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
			continue
		}
		if note.Tenant != t.String() {
			continue
		}
		s.dispatch(note)
	}
}

func (s *session) dispatch(note cache.CommitNotification) {
	s.mu.Lock()
	matches := make(map[uint64]subscription, len(s.subs))
	for id, sub := range s.subs {
		matches[id] = sub
	}
	s.mu.Unlock()

	for id, sub := range matches {
		switch sub.kind {
		case kindSignature:
			if note.Kind != "transaction" || note.Signature != sub.signature {
				continue
			}
			s.notifySignature(id, note)
			s.removeSub(id)
		case kindLogs:
			if note.Kind != "transaction" || !mentionsMatch(sub.logsMentions, note.AccountKeys) {
				continue
			}
			s.notifyLogs(id, note)
		case kindSlot:
			if note.Kind != "block" {
				continue
			}
			s.notifySlot(id, note)
		}
	}
}

// mentionsMatch reports whether a logsSubscribe filter's "mentions"
// account (empty string means the unfiltered "all" filter) appears among
// a transaction's account keys.
func mentionsMatch(mentions string, accountKeys []string) bool {
	if mentions == "" {
		return true
	}
	for _, k := range accountKeys {
		if k == mentions {
			return true
		}
	}
	return false
}

func (s *session) removeSub(id uint64) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *session) notifySignature(id uint64, note cache.CommitNotification) {
	var errVal interface{}
	if note.ErrString != "" {
		errVal = note.ErrString
	}
	_ = s.writeJSON(notification{
		Jsonrpc: "2.0",
		Method:  "signatureNotification",
		Params: notifParams{
			Subscription: id,
			Result: map[string]interface{}{
				"context": map[string]interface{}{"slot": note.Slot},
				"value":   map[string]interface{}{"err": errVal},
			},
		},
	})
}

func (s *session) notifyLogs(id uint64, note cache.CommitNotification) {
	var errVal interface{}
	if note.ErrString != "" {
		errVal = note.ErrString
	}
	var logs []string
	if sig, err := solana.SignatureFromBase58(note.Signature); err == nil && s.store != nil {
		if rec, err := s.store.GetTransaction(context.Background(), s.tenant, sig); err == nil {
			logs = rec.LogMessages
		}
	}
	if logs == nil {
		logs = []string{}
	}
	_ = s.writeJSON(notification{
		Jsonrpc: "2.0",
		Method:  "logsNotification",
		Params: notifParams{
			Subscription: id,
			Result: map[string]interface{}{
				"context": map[string]interface{}{"slot": note.Slot},
				"value":   map[string]interface{}{"signature": note.Signature, "err": errVal, "logs": logs},
			},
		},
	})
}

func (s *session) notifySlot(id uint64, note cache.CommitNotification) {
	_ = s.writeJSON(notification{
		Jsonrpc: "2.0",
		Method:  "slotNotification",
		Params: notifParams{
			Subscription: id,
			Result:       map[string]interface{}{"parent": note.Slot - 1, "root": note.Slot, "slot": note.Slot},
		},
	})
}
