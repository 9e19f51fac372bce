package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
	"github.com/boddenberg/shopbot-core/internal/infra/lock"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

var errBoom = errors.New("boom")

// --- Sessions ---

type memSessions struct {
	mu      sync.Mutex
	rows    map[string]domain.Session
	upserts int
	getErr  error
}

func newMemSessions() *memSessions {
	return &memSessions{rows: make(map[string]domain.Session)}
}

func (m *memSessions) Get(_ context.Context, tenantID, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.rows[sessionKey(tenantID, sessionID)]
	if !ok {
		return nil, nil
	}
	s.Data = s.Data.Clone()
	return &s, nil
}

func (m *memSessions) Upsert(_ context.Context, s *domain.Session) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	row := *s
	row.Data = s.Data.Clone()
	row.UpdatedAt = time.Now()
	m.rows[sessionKey(s.TenantID, s.SessionID)] = row
	out := row
	out.Data = row.Data.Clone()
	return &out, nil
}

func (m *memSessions) ListByStatus(_ context.Context, tenantID *string, statuses []domain.SessionStatus) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for _, s := range m.sorted() {
		if tenantID != nil && s.TenantID != *tenantID {
			continue
		}
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *memSessions) ListAll(_ context.Context) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(), nil
}

func (m *memSessions) ListByTenant(_ context.Context, tenantID string) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for _, s := range m.sorted() {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessions) sorted() []domain.Session {
	keys := make([]string, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.Session, 0, len(keys))
	for _, k := range keys {
		s := m.rows[k]
		s.Data = s.Data.Clone()
		out = append(out, s)
	}
	return out
}

func (m *memSessions) put(s domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[sessionKey(s.TenantID, s.SessionID)] = s
}

func (m *memSessions) get(tenantID, sessionID string) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionKey(tenantID, sessionID)]
	return s, ok
}

// --- Chat log ---

type memChatLog struct {
	mu   sync.Mutex
	msgs map[string][]domain.ChatMessage
	seq  int
}

func newMemChatLog() *memChatLog {
	return &memChatLog{msgs: make(map[string][]domain.ChatMessage)}
}

func (m *memChatLog) Append(_ context.Context, tenantID, threadID string, role domain.Role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	k := sessionKey(tenantID, threadID)
	m.msgs[k] = append(m.msgs[k], domain.ChatMessage{
		ID:        strconv.Itoa(m.seq),
		TenantID:  tenantID,
		ThreadID:  threadID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *memChatLog) Recent(_ context.Context, tenantID, threadID string, limit int) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.msgs[sessionKey(tenantID, threadID)]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]domain.ChatMessage(nil), all...), nil
}

func (m *memChatLog) All(ctx context.Context, tenantID, threadID string) ([]domain.ChatMessage, error) {
	return m.Recent(ctx, tenantID, threadID, 0)
}

func (m *memChatLog) DeleteAll(_ context.Context, tenantID, threadID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := sessionKey(tenantID, threadID)
	n := len(m.msgs[k])
	delete(m.msgs, k)
	return n, nil
}

func (m *memChatLog) texts(tenantID, threadID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.msgs[sessionKey(tenantID, threadID)] {
		out = append(out, string(msg.Role)+":"+msg.Text)
	}
	return out
}

// --- Customers and orders ---

type memCustomers struct {
	mu       sync.Mutex
	seq      int
	profiles []domain.CustomerProfile
	orders   []domain.Order
}

func (m *memCustomers) next() string {
	m.seq++
	return strconv.Itoa(m.seq)
}

func (m *memCustomers) ProfileBySession(_ context.Context, tenantID, sessionID string) (*domain.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.TenantID == tenantID && p.SessionID == sessionID {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memCustomers) ProfileByPhone(_ context.Context, tenantID, phone string) (*domain.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.TenantID == tenantID && p.Phone == phone {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memCustomers) CreateProfile(_ context.Context, p *domain.CustomerProfile) (*domain.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *p
	out.ID = m.next()
	out.CreatedAt = time.Now()
	m.profiles = append(m.profiles, out)
	return &out, nil
}

func (m *memCustomers) UpdateProfile(_ context.Context, p *domain.CustomerProfile) (*domain.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.profiles {
		if m.profiles[i].ID == p.ID {
			m.profiles[i] = *p
			out := *p
			return &out, nil
		}
	}
	return nil, errors.New("profile not found")
}

func (m *memCustomers) CreateOrder(_ context.Context, o *domain.Order) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *o
	out.ID = m.next()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}
	m.orders = append(m.orders, out)
	return &out, nil
}

func (m *memCustomers) AddOrderItem(_ context.Context, item *domain.OrderItem) (*domain.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *item
	out.ID = m.next()
	for i := range m.orders {
		if m.orders[i].ID == item.OrderID {
			m.orders[i].Items = append(m.orders[i].Items, out)
			return &out, nil
		}
	}
	return nil, errors.New("order not found")
}

func (m *memCustomers) CountOrders(_ context.Context, profileID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.ProfileID == profileID {
			n++
		}
	}
	return n, nil
}

func (m *memCustomers) OrdersByProfile(_ context.Context, profileID string) ([]domain.Order, error) {
	return m.filter(func(o domain.Order) bool { return o.ProfileID == profileID }), nil
}

func (m *memCustomers) OrderByID(_ context.Context, tenantID, orderID string) (*domain.Order, error) {
	found := m.filter(func(o domain.Order) bool { return o.TenantID == tenantID && o.ID == orderID })
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (m *memCustomers) OrdersBySession(_ context.Context, tenantID, sessionID string) ([]domain.Order, error) {
	return m.filter(func(o domain.Order) bool { return o.TenantID == tenantID && o.SessionID == sessionID }), nil
}

func (m *memCustomers) OrdersByStatus(_ context.Context, tenantID string, status domain.OrderStatus) ([]domain.Order, error) {
	return m.filter(func(o domain.Order) bool { return o.TenantID == tenantID && o.Status == status }), nil
}

// filter returns matching orders newest first.
func (m *memCustomers) filter(keep func(domain.Order) bool) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for i := len(m.orders) - 1; i >= 0; i-- {
		if keep(m.orders[i]) {
			out = append(out, m.orders[i])
		}
	}
	return out
}

// --- Control ---

type memControl struct {
	mu          sync.Mutex
	global      bool
	tenants     map[string]bool
	info        map[string]*domain.StoreInfo
	globalReads int
	err         error
}

func newMemControl() *memControl {
	return &memControl{global: true, tenants: map[string]bool{}, info: map[string]*domain.StoreInfo{}}
}

func (m *memControl) GlobalBotActive(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalReads++
	return m.global, m.err
}

func (m *memControl) SetGlobalBotActive(_ context.Context, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global = active
	return nil
}

func (m *memControl) TenantBotActive(_ context.Context, tenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	active, ok := m.tenants[tenantID]
	return !ok || active, nil
}

func (m *memControl) SetTenantBotActive(_ context.Context, tenantID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenantID] = active
	return nil
}

func (m *memControl) StoreInfo(_ context.Context, tenantID string) (*domain.StoreInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info[tenantID], nil
}

// --- Search ---

type fakeSearch struct {
	mu    sync.Mutex
	calls []port.TextQuery
	fn    func(q port.TextQuery) ([]domain.Product, error)
}

func (f *fakeSearch) SearchByText(_ context.Context, q port.TextQuery) ([]domain.Product, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.mu.Unlock()
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(q)
}

func (f *fakeSearch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeImageSearch struct {
	hits []domain.Product
	err  error
}

func (f *fakeImageSearch) SearchByImageEmbedding(context.Context, string, []float32, int, float32) ([]domain.Product, error) {
	return f.hits, f.err
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(context.Context, port.ImageInput) ([]float32, error) {
	return f.vector, f.err
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	return f.data, "image/png", f.err
}

// --- Language model ---

type fakeAI struct {
	mu sync.Mutex

	analysis   domain.IntentAnalysis
	intentErr  error
	intentCall int

	showMore domain.ShowMoreIntent
	decision domain.ConfirmationDecision
	info     domain.CustomerInfo

	evaluate func(query string, products []domain.Product) (domain.MatchResult, error)
	evalCall int

	description string

	replyText  string
	replyNames []string
	replyErr   error
	replyReqs  []port.ReplyRequest
}

func (f *fakeAI) ClassifyIntent(context.Context, port.IntentRequest) (domain.IntentAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intentCall++
	return f.analysis, f.intentErr
}

func (f *fakeAI) ExtractCustomerInfo(context.Context, string, domain.Credentials) (domain.CustomerInfo, error) {
	return f.info, nil
}

func (f *fakeAI) EvaluateProductMatch(_ context.Context, query, _ string, products []domain.Product, _ domain.Credentials) (domain.MatchResult, error) {
	f.mu.Lock()
	f.evalCall++
	f.mu.Unlock()
	if f.evaluate == nil {
		return domain.MatchResult{Type: domain.NoMatch}, nil
	}
	return f.evaluate(query, products)
}

func (f *fakeAI) FilterProductsByRelevance(_ context.Context, _, _ string, products []domain.Product, _ domain.Credentials) ([]domain.Product, error) {
	return products, nil
}

func (f *fakeAI) EvaluateConfirmation(context.Context, string, string, domain.Credentials) (domain.ConfirmationDecision, error) {
	if f.decision == "" {
		return domain.DecisionUnclear, nil
	}
	return f.decision, nil
}

func (f *fakeAI) DescribeImage(context.Context, port.ImageInput, domain.Credentials) (string, error) {
	return f.description, nil
}

func (f *fakeAI) ClassifyShowMore(context.Context, string, string, domain.Credentials) (domain.ShowMoreIntent, error) {
	if f.showMore == "" {
		return domain.ShowMoreOther, nil
	}
	return f.showMore, nil
}

func (f *fakeAI) GenerateReply(_ context.Context, req port.ReplyRequest) (port.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replyReqs = append(f.replyReqs, req)
	if f.replyErr != nil {
		return port.Reply{}, f.replyErr
	}
	return port.Reply{Text: f.replyText, ImageNames: f.replyNames}, nil
}

// --- Harness ---

const (
	testTenant  = "shop-1"
	testSession = "sess-1"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	svc       *ChatService
	control   *ControlService
	sessions  *memSessions
	chatLog   *memChatLog
	customers *memCustomers
	switches  *memControl
	search    *fakeSearch
	images    *fakeImageSearch
	embedder  *fakeEmbedder
	fetcher   *fakeFetcher
	ai        *fakeAI
	metrics   *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sessions:  newMemSessions(),
		chatLog:   newMemChatLog(),
		customers: &memCustomers{},
		switches:  newMemControl(),
		search:    &fakeSearch{},
		images:    &fakeImageSearch{},
		embedder:  &fakeEmbedder{vector: []float32{0.1, 0.2}},
		fetcher:   &fakeFetcher{data: []byte("png")},
		ai:        &fakeAI{replyText: "Dạ, shop có ạ."},
		metrics:   observability.NewMetrics(),
	}
	logger := zap.NewNop()
	replies := DefaultReplies()
	locker := lock.NewLocal()

	h.control = NewControlService(h.switches, h.sessions, h.chatLog, h.customers, locker, replies, time.Minute, h.metrics, logger)
	t.Cleanup(h.control.Close)

	h.svc = NewChatService(Deps{
		Sessions:    h.sessions,
		ChatLog:     h.chatLog,
		Search:      h.search,
		ImageSearch: h.images,
		Embedder:    h.embedder,
		Fetcher:     h.fetcher,
		AI:          h.ai,
		Locker:      locker,
		Control:     h.control,
		Matcher:     NewMatcher(h.search, h.ai, DefaultMatcherConfig(), h.metrics, logger),
		Orders:      NewOrderBuilder(h.customers, h.metrics, logger),
		Replies:     replies,
	}, DefaultConfig(), h.metrics, logger)
	h.svc.SetClock(func() time.Time { return testNow })
	return h
}

func (h *harness) send(t *testing.T, message string) *domain.ChatResponse {
	t.Helper()
	resp, err := h.svc.ProcessMessage(context.Background(), domain.ChatRequest{
		TenantID:  testTenant,
		SessionID: testSession,
		Message:   message,
		APIKey:    "key",
	})
	if err != nil {
		t.Fatalf("ProcessMessage(%q): %v", message, err)
	}
	return resp
}

func (h *harness) seed(status domain.SessionStatus, data domain.SessionData) {
	h.sessions.put(domain.Session{TenantID: testTenant, SessionID: testSession, Status: status, Data: data})
}

func (h *harness) session(t *testing.T) domain.Session {
	t.Helper()
	s, ok := h.sessions.get(testTenant, testSession)
	if !ok {
		t.Fatal("session not stored")
	}
	return s
}

func product(name, props string, inventory int) domain.Product {
	return domain.Product{
		ProductName:  name,
		Properties:   domain.FlexString(props),
		Inventory:    domain.FlexString(strconv.Itoa(inventory)),
		Price:        "100000",
		LinkProduct:  "https://shop.example/" + name,
		AvatarImages: []string{"https://img.example/" + name + ".jpg"},
	}
}
