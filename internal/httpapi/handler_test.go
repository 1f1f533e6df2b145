package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/santa/internal/event"
	"github.com/whisper/santa/internal/protocol"
	"github.com/whisper/santa/internal/ratelimit"
)

// ---------- fakes ----------

type fakeStore struct {
	mu           sync.Mutex
	nextID       int
	events       map[string]*event.Event
	participants map[string][]event.Participant
	restrictions map[string]map[string][]string
	assignments  map[string][]event.Assignment
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:       make(map[string]*event.Event),
		participants: make(map[string][]event.Participant),
		restrictions: make(map[string]map[string][]string),
		assignments:  make(map[string][]event.Assignment),
	}
}

func (s *fakeStore) CreateEvent(_ context.Context, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = fmt.Sprintf("ev-%d", s.nextID)
	ev.Status = event.StatusOpen
	ev.CreatedAt = time.Now().UTC()
	cp := *ev
	s.events[ev.ID] = &cp
	return nil
}

func (s *fakeStore) GetEvent(_ context.Context, id string) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, event.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *fakeStore) requireOpen(id string) error {
	ev, ok := s.events[id]
	if !ok {
		return event.ErrNotFound
	}
	if ev.Status == event.StatusDrawn {
		return event.ErrAlreadyDrawn
	}
	return nil
}

func (s *fakeStore) AddParticipant(_ context.Context, p *event.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen(p.EventID); err != nil {
		return err
	}
	list := s.participants[p.EventID]
	for i := range list {
		if list[i].Email == p.Email {
			list[i] = *p
			return nil
		}
	}
	s.participants[p.EventID] = append(list, *p)
	return nil
}

func (s *fakeStore) ListParticipants(_ context.Context, eventID string) ([]event.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Participant(nil), s.participants[eventID]...), nil
}

func (s *fakeStore) RemoveParticipant(_ context.Context, eventID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen(eventID); err != nil {
		return err
	}
	list := s.participants[eventID]
	for i := range list {
		if list[i].Email == email {
			s.participants[eventID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return event.ErrNotParticipant
}

func (s *fakeStore) isParticipant(eventID, email string) bool {
	for _, p := range s.participants[eventID] {
		if p.Email == email {
			return true
		}
	}
	return false
}

func (s *fakeStore) AddRestriction(_ context.Context, r *event.Restriction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Giver == r.Receiver {
		return event.ErrSelfRestriction
	}
	if err := s.requireOpen(r.EventID); err != nil {
		return err
	}
	if !s.isParticipant(r.EventID, r.Giver) || !s.isParticipant(r.EventID, r.Receiver) {
		return event.ErrNotParticipant
	}
	if s.restrictions[r.EventID] == nil {
		s.restrictions[r.EventID] = make(map[string][]string)
	}
	s.restrictions[r.EventID][r.Giver] = append(s.restrictions[r.EventID][r.Giver], r.Receiver)
	return nil
}

func (s *fakeStore) ListRestrictions(_ context.Context, eventID string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string)
	for k, v := range s.restrictions[eventID] {
		out[k] = append([]string(nil), v...)
	}
	return out, nil
}

func (s *fakeStore) ResetDraw(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return event.ErrNotFound
	}
	ev.Status = event.StatusOpen
	ev.DrawnAt = nil
	delete(s.assignments, eventID)
	return nil
}

func (s *fakeStore) GetAssignment(_ context.Context, eventID, giver string) (*event.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments[eventID] {
		if a.Giver == giver {
			cp := a
			return &cp, nil
		}
	}
	return nil, event.ErrNotFound
}

func (s *fakeStore) ListAssignments(_ context.Context, eventID string) ([]event.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Assignment(nil), s.assignments[eventID]...), nil
}

// markDrawn stores assignments as the matcher would.
func (s *fakeStore) markDrawn(eventID string, pairs ...[2]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.events[eventID].Status = event.StatusDrawn
	s.events[eventID].DrawnAt = &now
	for _, p := range pairs {
		s.assignments[eventID] = append(s.assignments[eventID], event.Assignment{
			EventID: eventID, Giver: p[0], Receiver: p[1], CreatedAt: now,
		})
	}
}

type fakeLimiter struct {
	deny  bool
	err   error
	calls []string
}

func (l *fakeLimiter) Allow(_ context.Context, id string, rule ratelimit.Rule) (ratelimit.Decision, error) {
	l.calls = append(l.calls, rule.Key+id)
	if l.deny {
		return ratelimit.Decision{Allowed: false, RetryAfter: 90 * time.Second}, nil
	}
	return ratelimit.Decision{Allowed: true, Remaining: rule.Limit - 1}, l.err
}

type fakePublisher struct {
	requests [][]byte
	err      error
}

func (p *fakePublisher) PublishDrawRequest(data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.requests = append(p.requests, data)
	return nil
}

type fakeLive struct {
	served []string
}

func (f *fakeLive) Serve(w http.ResponseWriter, _ *http.Request, eventID string) {
	f.served = append(f.served, eventID)
	w.WriteHeader(http.StatusOK)
}

// ---------- helpers ----------

type testAPI struct {
	store   *fakeStore
	limiter *fakeLimiter
	pub     *fakePublisher
	live    *fakeLive
	routes  http.Handler
}

func newTestAPI() *testAPI {
	a := &testAPI{
		store:   newFakeStore(),
		limiter: &fakeLimiter{},
		pub:     &fakePublisher{},
		live:    &fakeLive{},
	}
	a.routes = NewHandler(a.store, a.limiter, a.pub, a.live).Routes()
	return a
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.routes.ServeHTTP(rec, req)
	return rec
}

// seedEvent creates an event with the given participants directly in the store.
func (a *testAPI) seedEvent(t *testing.T, emails ...string) string {
	t.Helper()
	ev := &event.Event{Name: "Office", OrganizerEmail: "boss@test.com", BudgetCents: 2000, Currency: "EUR"}
	require.NoError(t, a.store.CreateEvent(context.Background(), ev))
	for _, e := range emails {
		require.NoError(t, a.store.AddParticipant(context.Background(), &event.Participant{
			EventID:  ev.ID,
			Email:    e,
			Name:     strings.ToUpper(e[:1]) + e[1:strings.Index(e, "@")],
			Channels: []string{protocol.ChannelEmail},
			Wishlist: "books",
		}))
	}
	return ev.ID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decode(t, rec, &body)
	return body.Error.Code
}

// ---------- event tests ----------

func TestCreateEvent(t *testing.T) {
	api := newTestAPI()

	rec := api.do(http.MethodPost, "/events", `{
		"name": "Office party",
		"organizer_email": " Boss@Test.com ",
		"budget_cents": 2500,
		"currency": "eur",
		"exchange_date": "2026-12-20"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp eventResponse
	decode(t, rec, &resp)
	require.NotNil(t, resp.Event)
	assert.NotEmpty(t, resp.Event.ID)
	assert.Equal(t, "boss@test.com", resp.Event.OrganizerEmail)
	assert.Equal(t, "EUR", resp.Event.Currency)
	assert.Equal(t, event.StatusOpen, resp.Event.Status)
	require.NotNil(t, resp.Event.ExchangeDate)
	assert.Equal(t, "2026-12-20", resp.Event.ExchangeDate.Format(time.DateOnly))
	assert.Equal(t, []string{ratelimit.RuleCreateEvent.Key + "192.0.2.1"}, api.limiter.calls)
}

func TestCreateEvent_Validation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing name", `{"organizer_email":"a@test.com","currency":"EUR"}`, "name"},
		{"bad email", `{"name":"x","organizer_email":"nope","currency":"EUR"}`, "organizer_email"},
		{"negative budget", `{"name":"x","organizer_email":"a@test.com","currency":"EUR","budget_cents":-1}`, "budget_cents"},
		{"bad currency", `{"name":"x","organizer_email":"a@test.com","currency":"EURO"}`, "currency"},
		{"bad date", `{"name":"x","organizer_email":"a@test.com","currency":"EUR","exchange_date":"20/12/2026"}`, "exchange_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI()
			rec := api.do(http.MethodPost, "/events", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorBody
			decode(t, rec, &body)
			assert.Equal(t, "VALIDATION", body.Error.Code)
			assert.Contains(t, body.Error.Message, tt.field)
		})
	}
}

func TestCreateEvent_InvalidJSON(t *testing.T) {
	api := newTestAPI()
	rec := api.do(http.MethodPost, "/events", `{`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", errorCode(t, rec))
}

func TestCreateEvent_RateLimited(t *testing.T) {
	api := newTestAPI()
	api.limiter.deny = true

	rec := api.do(http.MethodPost, "/events", `{"name":"x","organizer_email":"a@test.com","currency":"EUR"}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rec))
}

func TestCreateEvent_LimiterErrorFailsOpen(t *testing.T) {
	api := newTestAPI()
	api.limiter.err = errors.New("redis down")

	rec := api.do(http.MethodPost, "/events", `{"name":"x","organizer_email":"a@test.com","currency":"EUR"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetEvent(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t, "ann@test.com", "bob@test.com")

	rec := api.do(http.MethodGet, "/events/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp eventResponse
	decode(t, rec, &resp)
	assert.Equal(t, id, resp.Event.ID)
	assert.Equal(t, 2, resp.ParticipantCount)
}

func TestGetEvent_NotFound(t *testing.T) {
	api := newTestAPI()
	rec := api.do(http.MethodGet, "/events/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

// ---------- participant tests ----------

func TestAddParticipant_DefaultsToEmail(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t)

	rec := api.do(http.MethodPost, "/events/"+id+"/participants",
		`{"email":"Ann@Test.com","name":"Ann","wishlist":"socks"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var p event.Participant
	decode(t, rec, &p)
	assert.Equal(t, "ann@test.com", p.Email)
	assert.Equal(t, []string{"email"}, p.Channels)
}

func TestAddParticipant_PhoneChannels(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t)

	rec := api.do(http.MethodPost, "/events/"+id+"/participants",
		`{"email":"ann@test.com","name":"Ann","channels":["sms","email","sms"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "phone")

	rec = api.do(http.MethodPost, "/events/"+id+"/participants",
		`{"email":"ann@test.com","name":"Ann","phone":"+15551234567","channels":["sms","email","sms"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var p event.Participant
	decode(t, rec, &p)
	assert.Equal(t, []string{"sms", "email"}, p.Channels)
}

func TestAddParticipant_UnknownChannel(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t)

	rec := api.do(http.MethodPost, "/events/"+id+"/participants",
		`{"email":"ann@test.com","name":"Ann","channels":["pigeon"]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", errorCode(t, rec))
}

func TestAddParticipant_AfterDraw(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t, "ann@test.com", "bob@test.com")
	api.store.markDrawn(id)

	rec := api.do(http.MethodPost, "/events/"+id+"/participants", `{"email":"cat@test.com","name":"Cat"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_DRAWN", errorCode(t, rec))
}

func TestListParticipants(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t)

	rec := api.do(http.MethodGet, "/events/"+id+"/participants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"participants":[]}`, rec.Body.String())

	require.NoError(t, api.store.AddParticipant(context.Background(),
		&event.Participant{EventID: id, Email: "ann@test.com", Name: "Ann"}))
	rec = api.do(http.MethodGet, "/events/"+id+"/participants", "")

	var resp participantsResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Participants, 1)
	assert.Equal(t, "ann@test.com", resp.Participants[0].Email)
}

func TestRemoveParticipant(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t, "ann@test.com", "bob@test.com")

	rec := api.do(http.MethodDelete, "/events/"+id+"/participants/ann@test.com", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(http.MethodDelete, "/events/"+id+"/participants/ann@test.com", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ---------- restriction tests ----------

func TestAddRestriction(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t, "ann@test.com", "bob@test.com")

	rec := api.do(http.MethodPost, "/events/"+id+"/restrictions", `{"giver":"ann@test.com","receiver":"bob@test.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/events/"+id+"/restrictions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp restrictionsResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Restrictions, 1)
	assert.Equal(t, "ann@test.com", resp.Restrictions[0].Giver)
	assert.Equal(t, "bob@test.com", resp.Restrictions[0].Receiver)
}

func TestAddRestriction_Errors(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t, "ann@test.com", "bob@test.com")

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"self", `{"giver":"ann@test.com","receiver":"ann@test.com"}`, http.StatusBadRequest, "SELF_RESTRICTION"},
		{"stranger", `{"giver":"ann@test.com","receiver":"zed@test.com"}`, http.StatusBadRequest, "NOT_PARTICIPANT"},
		{"missing receiver", `{"giver":"ann@test.com"}`, http.StatusBadRequest, "VALIDATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(http.MethodPost, "/events/"+id+"/restrictions", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

// ---------- draw tests ----------

func TestDraw_PublishesRequest(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t, "ann@test.com", "bob@test.com", "cat@test.com")

	rec := api.do(http.MethodPost, "/events/"+id+"/draw", `{"requested_by":"boss@test.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, fmt.Sprintf(`{"event_id":%q,"status":"pending"}`, id), rec.Body.String())

	require.Len(t, api.pub.requests, 1)
	var req protocol.DrawRequest
	require.NoError(t, json.Unmarshal(api.pub.requests[0], &req))
	assert.Equal(t, id, req.EventID)
	assert.Equal(t, "boss@test.com", req.RequestedBy)
	assert.NotZero(t, req.RequestedAt)
	assert.Contains(t, api.limiter.calls, ratelimit.RuleDraw.Key+id)
}

func TestDraw_EmptyBody(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t, "ann@test.com", "bob@test.com")

	rec := api.do(http.MethodPost, "/events/"+id+"/draw", "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestDraw_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(api *testAPI) string
		status int
		code   string
	}{
		{
			name:   "unknown event",
			setup:  func(*testAPI) string { return "missing" },
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
		{
			name: "already drawn",
			setup: func(api *testAPI) string {
				id := api.seedEvent(t, "ann@test.com", "bob@test.com")
				api.store.markDrawn(id)
				return id
			},
			status: http.StatusConflict,
			code:   "ALREADY_DRAWN",
		},
		{
			name:   "one participant",
			setup:  func(api *testAPI) string { return api.seedEvent(t, "ann@test.com") },
			status: http.StatusBadRequest,
			code:   "NOT_ENOUGH_PARTICIPANTS",
		},
		{
			name: "rate limited",
			setup: func(api *testAPI) string {
				api.limiter.deny = true
				return api.seedEvent(t, "ann@test.com", "bob@test.com")
			},
			status: http.StatusTooManyRequests,
			code:   "RATE_LIMITED",
		},
		{
			name: "publisher down",
			setup: func(api *testAPI) string {
				api.pub.err = errors.New("nats down")
				return api.seedEvent(t, "ann@test.com", "bob@test.com")
			},
			status: http.StatusServiceUnavailable,
			code:   "UNAVAILABLE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI()
			id := tt.setup(api)

			rec := api.do(http.MethodPost, "/events/"+id+"/draw", "")

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
			assert.Empty(t, api.pub.requests)
		})
	}
}

func TestResetDraw(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t, "ann@test.com", "bob@test.com")
	api.store.markDrawn(id, [2]string{"ann@test.com", "bob@test.com"}, [2]string{"bob@test.com", "ann@test.com"})

	rec := api.do(http.MethodDelete, "/events/"+id+"/draw", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	ev, err := api.store.GetEvent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, event.StatusOpen, ev.Status)

	rec = api.do(http.MethodGet, "/events/"+id+"/assignments", "")
	assert.JSONEq(t, `{"assignments":[]}`, rec.Body.String())
}

// ---------- assignment tests ----------

func TestGetAssignment(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t, "ann@test.com", "bob@test.com")

	rec := api.do(http.MethodGet, "/events/"+id+"/assignments/ann@test.com", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_DRAWN", errorCode(t, rec))

	api.store.markDrawn(id, [2]string{"ann@test.com", "bob@test.com"}, [2]string{"bob@test.com", "ann@test.com"})

	rec = api.do(http.MethodGet, "/events/"+id+"/assignments/Ann@Test.com", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t,
		`{"giver":"ann@test.com","receiver":{"email":"bob@test.com","name":"Bob","wishlist":"books"}}`,
		rec.Body.String())

	rec = api.do(http.MethodGet, "/events/"+id+"/assignments/zed@test.com", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAssignments(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t, "ann@test.com", "bob@test.com")
	api.store.markDrawn(id, [2]string{"ann@test.com", "bob@test.com"}, [2]string{"bob@test.com", "ann@test.com"})

	rec := api.do(http.MethodGet, "/events/"+id+"/assignments", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp assignmentsResponse
	decode(t, rec, &resp)
	assert.Len(t, resp.Assignments, 2)
}

// ---------- misc tests ----------

func TestLive(t *testing.T) {
	api := newTestAPI()
	id := api.seedEvent(t)

	rec := api.do(http.MethodGet, "/events/missing/live", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodGet, "/events/"+id+"/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{id}, api.live.served)
}

func TestHealth(t *testing.T) {
	api := newTestAPI()
	rec := api.do(http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI()
	rec := api.do(http.MethodPut, "/events", "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
