// Package inmem defines an implementation of the transport contract
// backed by an in memory server. It honours accounts, auto-registration,
// node ownership, create permissions, rosters and offline messages, so it
// can stand in for a real server in tests and local runs.
package inmem

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/purposeinplay/go-artifact/jid"
	"github.com/purposeinplay/go-artifact/transport"
	"go.uber.org/zap"
)

// Ensure type inmem.Server implements interface transport.Dialer.
var _ transport.Dialer = (*Server)(nil)

type nodeKey struct {
	service, node string
}

type node struct {
	owner string

	subscribers map[*Client]struct{}
}

// Server represents a messaging server backed by an in memory storage.
type Server struct {
	mu sync.Mutex

	logger *zap.Logger

	// bare address -> password
	accounts map[string]string

	// allowRegister lets clients with AutoRegister create their account.
	allowRegister bool

	// offline makes every connection attempt end disconnected.
	offline bool

	// trimNodeDomain strips the domain from the node reported in items.
	trimNodeDomain bool

	nodes map[nodeKey]*node

	// service -> bare addresses not allowed to create nodes
	forbidden map[string]map[string]struct{}

	// bare address -> live sessions
	sessions map[string]map[*Client]struct{}

	// bare address -> contacts
	rosters map[string]map[string]struct{}

	// bare address -> addresses waiting for its approval
	pending map[string]map[string]struct{}

	// bare address -> messages waiting for a session
	offlineMessages map[string][]transport.Message
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistration allows clients that ask for auto-registration to create
// their account on first login.
func WithRegistration(allow bool) Option {
	return func(s *Server) {
		s.allowRegister = allow
	}
}

// WithTrimmedNodeNames makes item notifications report the node without
// its domain, the way some servers shorten node names in events.
func WithTrimmedNodeNames() Option {
	return func(s *Server) {
		s.trimNodeDomain = true
	}
}

// NewServer returns a new instance of Server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		logger:          zap.NewNop(),
		accounts:        make(map[string]string),
		allowRegister:   true,
		nodes:           make(map[nodeKey]*node),
		forbidden:       make(map[string]map[string]struct{}),
		sessions:        make(map[string]map[*Client]struct{}),
		rosters:         make(map[string]map[string]struct{}),
		pending:         make(map[string]map[string]struct{}),
		offlineMessages: make(map[string][]transport.Message),
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// NewClient returns a client bound to cfg. It implements transport.Dialer.
func (s *Server) NewClient(cfg transport.ClientConfig) (transport.Client, error) {
	if cfg.JID.IsZero() {
		return nil, fmt.Errorf("new client: %w", jid.ErrInvalid)
	}

	return newClient(s, cfg), nil
}

// Register creates or replaces an account.
func (s *Server) Register(address, password string) error {
	j, err := jid.Parse(address)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[j.Topic()] = password

	return nil
}

// SetOffline makes subsequent connection attempts fail as disconnected.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offline = offline
}

// Forbid denies address the right to create nodes on service.
func (s *Server) Forbid(service, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	denied, ok := s.forbidden[service]
	if !ok {
		denied = make(map[string]struct{})
		s.forbidden[service] = denied
	}

	denied[jid.Canonical(address, "")] = struct{}{}
}

// CreateNode creates a node owned by owner, bypassing permissions.
func (s *Server) CreateNode(service, nodeName, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[nodeKey{service, nodeName}] = &node{
		owner:       jid.Canonical(owner, ""),
		subscribers: make(map[*Client]struct{}),
	}
}

// HasNode reports whether the node exists.
func (s *Server) HasNode(service, nodeName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.nodes[nodeKey{service, nodeName}]

	return ok
}

// Subscribers returns the number of sessions subscribed to the node.
func (s *Server) Subscribers(service, nodeName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeKey{service, nodeName}]
	if !ok {
		return 0
	}

	return len(n.subscribers)
}

// Befriend adds a and b to each other's roster.
func (s *Server) Befriend(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.befriend(jid.Canonical(a, ""), jid.Canonical(b, ""))
}

// Requests returns the addresses waiting for the approval of address.
func (s *Server) Requests(address string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedKeys(s.pending[jid.Canonical(address, "")])
}

// Kick drops every session of address, as if the connection was lost.
func (s *Server) Kick(address string) {
	bare := jid.Canonical(address, "")

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.sessions[bare]))

	for c := range s.sessions[bare] {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.drop(transport.ErrNotConnected)
	}
}

func (s *Server) addContact(owner, contact string) {
	roster, ok := s.rosters[owner]
	if !ok {
		roster = make(map[string]struct{})
		s.rosters[owner] = roster
	}

	roster[contact] = struct{}{}
}

func (s *Server) befriend(a, b string) {
	s.addContact(a, b)
	s.addContact(b, a)

	delete(s.pending[a], b)
	delete(s.pending[b], a)
}

func (s *Server) contacts(bare string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedKeys(s.rosters[bare])
}

// requestSubscription records that from asks to for its presence. It is
// approved at once when a session of to approves every request.
func (s *Server) requestSubscription(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rosters[from][to]; ok {
		return
	}

	for c := range s.sessions[to] {
		if c.approvesAll() {
			s.befriend(from, to)
			return
		}
	}

	requests, ok := s.pending[to]
	if !ok {
		requests = make(map[string]struct{})
		s.pending[to] = requests
	}

	requests[from] = struct{}{}
}

func (s *Server) approve(owner, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[owner][requester]; !ok {
		return fmt.Errorf("approve %s: %w", requester, transport.ErrNoRequest)
	}

	s.befriend(owner, requester)

	return nil
}

func (s *Server) approvePending(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.approvePendingLocked(owner)
}

func (s *Server) approvePendingLocked(owner string) {
	for requester := range s.pending[owner] {
		s.befriend(owner, requester)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))

	for k := range set {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

// login authenticates c and records its session. On success the session
// start is queued ahead of any stored messages.
func (s *Server) login(c *Client) (transport.SessionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.offline {
		return transport.SessionDisconnected, transport.ErrNotConnected
	}

	bare := c.cfg.JID.Topic()

	password, ok := s.accounts[bare]

	switch {
	case !ok && c.cfg.AutoRegister && s.allowRegister:
		s.accounts[bare] = c.cfg.Password
		s.logger.Debug("account registered", zap.String("jid", bare))
	case !ok, password != c.cfg.Password:
		return transport.SessionAuthFailed, transport.ErrNotAuthorized
	}

	sessions, ok := s.sessions[bare]
	if !ok {
		sessions = make(map[*Client]struct{})
		s.sessions[bare] = sessions
	}

	sessions[c] = struct{}{}

	if c.approvesAll() {
		s.approvePendingLocked(bare)
	}

	c.setConnected(true)
	c.enqueue(event{session: transport.SessionStarted})

	// Flush messages stored while the account had no session.
	for _, msg := range s.offlineMessages[bare] {
		c.enqueue(event{msg: &msg})
	}

	delete(s.offlineMessages, bare)

	return transport.SessionStarted, nil
}

// logout removes the session and all of its subscriptions.
func (s *Server) logout(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bare := c.cfg.JID.Topic()

	if sessions, ok := s.sessions[bare]; ok {
		delete(sessions, c)

		if len(sessions) == 0 {
			delete(s.sessions, bare)
		}
	}

	for _, n := range s.nodes {
		delete(n.subscribers, c)
	}
}

func (s *Server) create(c *Client, service, nodeName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bare := c.cfg.JID.Topic()

	if _, denied := s.forbidden[service][bare]; denied {
		return fmt.Errorf("create %s on %s: %w", nodeName, service, transport.ErrForbidden)
	}

	key := nodeKey{service, nodeName}

	if _, exists := s.nodes[key]; exists {
		return fmt.Errorf("create %s on %s: %w", nodeName, service, transport.ErrConflict)
	}

	s.nodes[key] = &node{
		owner:       bare,
		subscribers: make(map[*Client]struct{}),
	}

	return nil
}

// publish sends item to every session subscribed to the node.
func (s *Server) publish(c *Client, service, nodeName string, item transport.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeKey{service, nodeName}]
	if !ok {
		return fmt.Errorf("publish to %s: %w", nodeName, transport.ErrItemNotFound)
	}

	if n.owner != c.cfg.JID.Topic() {
		return fmt.Errorf("publish to %s: %w", nodeName, transport.ErrForbidden)
	}

	item.Node = nodeName

	if s.trimNodeDomain {
		if idx := strings.IndexByte(nodeName, '@'); idx >= 0 {
			item.Node = nodeName[:idx]
		}
	}

	// Iterate over the subscriptions for the node.
	for sub := range n.subscribers {
		item := item
		sub.enqueue(event{item: &item})
	}

	return nil
}

func (s *Server) subscribe(c *Client, service, nodeName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeKey{service, nodeName}]
	if !ok {
		return fmt.Errorf("subscribe to %s: %w", nodeName, transport.ErrItemNotFound)
	}

	n.subscribers[c] = struct{}{}

	return nil
}

func (s *Server) unsubscribe(c *Client, service, nodeName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeKey{service, nodeName}]
	if !ok {
		return fmt.Errorf("unsubscribe from %s: %w", nodeName, transport.ErrItemNotFound)
	}

	delete(n.subscribers, c)

	return nil
}

// route delivers msg to the sessions of its recipient, or stores it until
// the recipient logs in.
func (s *Server) route(msg transport.Message) error {
	to, err := jid.Parse(msg.To)
	if err != nil {
		return fmt.Errorf("route: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bare := to.Topic()

	delivered := false

	for c := range s.sessions[bare] {
		if to.Resource != "" && c.cfg.JID.Resource != to.Resource {
			continue
		}

		msg := msg
		c.enqueue(event{msg: &msg})

		delivered = true
	}

	if !delivered {
		s.offlineMessages[bare] = append(s.offlineMessages[bare], msg)
	}

	return nil
}
