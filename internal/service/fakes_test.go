package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/strava"
)

// =========================================================================
// FAKES
// =========================================================================
//
// In-memory implementations of the repository interfaces. They return
// copies, like a real database would, so a test can't pass by mutating a
// shared pointer. Set an *Err field to make the next call fail.

var errDB = fmt.Errorf("database is locked")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fixedClock returns a clock stuck at t, movable through the pointer.
func fixedClock(t *time.Time) clock {
	return func() time.Time { return *t }
}

type fakeUsers struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	nextID  int
	updates int

	createErr       error
	updateErr       error
	updateStravaErr error
	listErr         error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[string]*model.User)}
}

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	u.Email = model.NormalizeEmail(u.Email)
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return apperror.Conflict("user", u.Email)
		}
	}
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	u.KRID = fmt.Sprintf("KR%04d", f.nextID)
	if u.Provider == "" {
		u.Provider = model.ProviderEmail
	}
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	f.byID[u.ID] = &stored
	return nil
}

func (f *fakeUsers) find(match func(*model.User) bool, what string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound("user", what)
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	email = model.NormalizeEmail(email)
	return f.find(func(u *model.User) bool { return u.Email == email }, email)
}

func (f *fakeUsers) GetByKRID(_ context.Context, krid string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.KRID == krid }, krid)
}

func (f *fakeUsers) Update(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	existing, ok := f.byID[u.ID]
	if !ok {
		return apperror.NotFound("user", u.ID)
	}
	c := *u
	c.Strava = existing.Strava
	f.byID[u.ID] = &c
	f.updates++
	return nil
}

func (f *fakeUsers) UpdateStrava(_ context.Context, userID string, creds model.StravaCredentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateStravaErr != nil {
		return f.updateStravaErr
	}
	u, ok := f.byID[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.Strava = creds
	return nil
}

func (f *fakeUsers) ListStravaConnected(_ context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.User
	for _, u := range f.byID {
		if u.IsActive && u.Strava.Connected() {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// add stores u directly and returns the stored copy.
func (f *fakeUsers) add(u model.User) *model.User {
	if err := f.Create(context.Background(), &u); err != nil {
		panic(err)
	}
	return &u
}

type fakeSessions struct {
	byID   map[string]*model.Session
	nextID int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: make(map[string]*model.Session)}
}

func (f *fakeSessions) Create(_ context.Context, s *model.Session) error {
	f.nextID++
	s.ID = fmt.Sprintf("sess-%d", f.nextID)
	c := *s
	f.byID[s.ID] = &c
	return nil
}

func (f *fakeSessions) GetByHash(_ context.Context, hash string) (*model.Session, error) {
	for _, s := range f.byID {
		if s.RefreshHash == hash {
			c := *s
			return &c, nil
		}
	}
	return nil, apperror.NotFound("session", "")
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

func (f *fakeSessions) DeleteForUser(_ context.Context, userID string) error {
	for id, s := range f.byID {
		if s.UserID == userID {
			delete(f.byID, id)
		}
	}
	return nil
}

func (f *fakeSessions) countFor(userID string) int {
	n := 0
	for _, s := range f.byID {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

type fakeCodes struct {
	codes []*model.EmailCode
}

func (f *fakeCodes) Create(_ context.Context, c *model.EmailCode) error {
	c.ID = fmt.Sprintf("code-%d", len(f.codes)+1)
	stored := *c
	f.codes = append(f.codes, &stored)
	return nil
}

func (f *fakeCodes) Latest(_ context.Context, userID, purpose string) (*model.EmailCode, error) {
	for i := len(f.codes) - 1; i >= 0; i-- {
		c := f.codes[i]
		if c.UserID == userID && c.Purpose == purpose && c.ConsumedAt == nil {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("email code", userID)
}

func (f *fakeCodes) IncrementAttempts(_ context.Context, id string) error {
	for _, c := range f.codes {
		if c.ID == id {
			c.Attempts++
		}
	}
	return nil
}

func (f *fakeCodes) Consume(_ context.Context, id string, at time.Time) error {
	for _, c := range f.codes {
		if c.ID == id && c.ConsumedAt == nil {
			c.ConsumedAt = &at
			return nil
		}
	}
	return apperror.NotFound("email code", id)
}

type fakeEvents struct {
	byID   map[string]*model.Event
	order  []string
	fakeP  *fakeParticipants
	nextID int
}

func newFakeEvents(p *fakeParticipants) *fakeEvents {
	return &fakeEvents{byID: make(map[string]*model.Event), fakeP: p}
}

func (f *fakeEvents) Create(_ context.Context, e *model.Event) error {
	f.nextID++
	e.ID = fmt.Sprintf("event-%d", f.nextID)
	e.IsActive = true
	c := *e
	f.byID[e.ID] = &c
	f.order = append(f.order, e.ID)
	return nil
}

func (f *fakeEvents) Get(_ context.Context, id string) (*model.Event, error) {
	e, ok := f.byID[id]
	if !ok || !e.IsActive {
		return nil, apperror.NotFound("event", id)
	}
	c := *e
	return &c, nil
}

func (f *fakeEvents) List(_ context.Context, filters model.EventFilters) ([]model.Event, error) {
	var out []model.Event
	for _, id := range f.order {
		e := f.byID[id]
		if !e.IsActive {
			continue
		}
		if filters.Category != "" && e.Category != filters.Category {
			continue
		}
		if filters.DateFrom != nil && e.Date.Before(*filters.DateFrom) {
			continue
		}
		if filters.DateTo != nil && e.Date.After(*filters.DateTo) {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeEvents) Update(_ context.Context, e *model.Event) error {
	if _, ok := f.byID[e.ID]; !ok {
		return apperror.NotFound("event", e.ID)
	}
	c := *e
	f.byID[e.ID] = &c
	return nil
}

func (f *fakeEvents) SoftDelete(_ context.Context, id, creatorID string) (bool, error) {
	e, ok := f.byID[id]
	if !ok || !e.IsActive || e.CreatedBy != creatorID {
		return false, nil
	}
	e.IsActive = false
	return true, nil
}

func (f *fakeEvents) ListByCreator(_ context.Context, userID string) ([]model.Event, error) {
	var out []model.Event
	for _, id := range f.order {
		if e := f.byID[id]; e.IsActive && e.CreatedBy == userID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEvents) ListJoined(_ context.Context, userID string) ([]model.Event, error) {
	var out []model.Event
	for _, id := range f.order {
		e := f.byID[id]
		if !e.IsActive {
			continue
		}
		if _, err := f.fakeP.Get(context.Background(), id, userID); err == nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeParticipants struct {
	rows   []*model.EventParticipant
	users  *fakeUsers
	nextID int
	clock  time.Time
}

func (f *fakeParticipants) Get(_ context.Context, eventID, userID string) (*model.EventParticipant, error) {
	for _, p := range f.rows {
		if p.EventID == eventID && p.UserID == userID {
			c := *p
			return &c, nil
		}
	}
	return nil, apperror.NotFound("participant", userID)
}

func (f *fakeParticipants) Add(ctx context.Context, p *model.EventParticipant) error {
	if _, err := f.Get(ctx, p.EventID, p.UserID); err == nil {
		return apperror.Conflict("participant", p.UserID)
	}
	f.nextID++
	p.ID = fmt.Sprintf("part-%d", f.nextID)
	// Every join in a test lands in the same instant; insertion order
	// breaks the tie.
	p.RegisteredAt = f.clock
	c := *p
	f.rows = append(f.rows, &c)
	return nil
}

func (f *fakeParticipants) Remove(_ context.Context, eventID, userID string) (bool, error) {
	for i, p := range f.rows {
		if p.EventID == eventID && p.UserID == userID {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeParticipants) CountRegistered(_ context.Context, eventID string) (int, error) {
	n := 0
	for _, p := range f.rows {
		if p.EventID == eventID && p.Status == model.StatusRegistered {
			n++
		}
	}
	return n, nil
}

func (f *fakeParticipants) FirstWaitlisted(_ context.Context, eventID string) (*model.EventParticipant, error) {
	for _, p := range f.rows {
		if p.EventID == eventID && p.Status == model.StatusWaitlist {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeParticipants) UpdateStatus(_ context.Context, id, status string) error {
	for _, p := range f.rows {
		if p.ID == id {
			p.Status = status
			return nil
		}
	}
	return apperror.NotFound("participant", id)
}

func (f *fakeParticipants) ListForEvents(ctx context.Context, ids []string) (map[string][]model.ParticipantDetails, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[string][]model.ParticipantDetails)
	for _, p := range f.rows {
		if !want[p.EventID] {
			continue
		}
		d := model.ParticipantDetails{EventParticipant: *p}
		if u, err := f.users.GetByID(ctx, p.UserID); err == nil {
			d.User = u.Summary()
		}
		out[p.EventID] = append(out[p.EventID], d)
	}
	return out, nil
}

func (f *fakeParticipants) statusOf(eventID, userID string) string {
	p, err := f.Get(context.Background(), eventID, userID)
	if err != nil {
		return ""
	}
	return p.Status
}

type fakeActivities struct {
	mu   sync.Mutex
	byID map[int64]model.Activity

	existsErr error
	createErr error
	// raceIDs makes Create report a conflict for ids that Exists said were new
	raceIDs map[int64]bool
}

func newFakeActivities() *fakeActivities {
	return &fakeActivities{byID: make(map[int64]model.Activity)}
}

func (f *fakeActivities) Exists(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.byID[id]
	return ok, nil
}

func (f *fakeActivities) Create(_ context.Context, a *model.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.byID[a.ID]; ok || f.raceIDs[a.ID] {
		return apperror.Conflict("activity", fmt.Sprint(a.ID))
	}
	f.byID[a.ID] = *a
	return nil
}

func (f *fakeActivities) filtered(filter model.ActivityFilter) []model.Activity {
	var out []model.Activity
	for _, a := range f.byID {
		if a.UserID != filter.UserID {
			continue
		}
		if filter.SportType != "" && a.SportType != filter.SportType {
			continue
		}
		if filter.StartDate != nil && a.StartDate.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && a.StartDate.After(*filter.EndDate) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out
}

func (f *fakeActivities) List(_ context.Context, filter model.ActivityFilter) ([]model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.filtered(filter)
	if filter.Offset >= len(all) {
		return []model.Activity{}, nil
	}
	all = all[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(all) {
		all = all[:filter.Limit]
	}
	return all, nil
}

func (f *fakeActivities) Count(_ context.Context, filter model.ActivityFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.filtered(filter)), nil
}

// fakeMailer remembers what it was asked to send.
type fakeMailer struct {
	codes map[string]string
	links map[string]string
	err   error
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{codes: make(map[string]string), links: make(map[string]string)}
}

func (m *fakeMailer) SendVerificationCode(_ context.Context, to, code string) error {
	if m.err != nil {
		return m.err
	}
	m.codes[to] = code
	return nil
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, to, link string) error {
	if m.err != nil {
		return m.err
	}
	m.links[to] = link
	return nil
}

// fakeStrava stands in for the Strava API.
type fakeStrava struct {
	mu sync.Mutex

	exchangeToken *strava.Token
	refreshToken  *strava.Token
	activities    map[string][]strava.Activity // by access token
	stats         *strava.AthleteStats

	exchangeErr   error
	refreshErr    error
	activitiesErr map[string]error

	refreshCalls int
	lastAfter    time.Time
	lastBefore   time.Time
}

func (f *fakeStrava) AuthorizeURL(state string) string {
	return "https://www.strava.com/oauth/authorize?state=" + state
}

func (f *fakeStrava) Exchange(_ context.Context, _ string) (*strava.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchangeToken, nil
}

func (f *fakeStrava) Refresh(_ context.Context, _ string) (*strava.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshToken, nil
}

func (f *fakeStrava) ActivitiesBetween(_ context.Context, token string, after, before time.Time) ([]strava.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAfter, f.lastBefore = after, before
	if err := f.activitiesErr[token]; err != nil {
		return nil, err
	}
	return f.activities[token], nil
}

func (f *fakeStrava) AthleteStats(_ context.Context, _ string, _ int64) (*strava.AthleteStats, error) {
	return f.stats, nil
}
