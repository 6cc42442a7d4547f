package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/repository"
)

// User-facing event messages.
const (
	MsgEventNotFound       = "Event not found"
	MsgAlreadyParticipant  = "User already participating in this event"
	MsgNotParticipant      = "User is not participating in this event"
	MsgDeadlinePassed      = "Registration deadline has passed"
	MsgInvalidDate         = "Invalid date format. Use ISO 8601 format."
	MsgDateInPast          = "Event date must be in the future"
	MsgInvalidDeadline     = "Invalid registration deadline format. Use ISO 8601 format."
	MsgDeadlineAfterDate   = "Registration deadline must be before the event date"
	MsgInvalidCapacity     = "Maximum participants must be a positive number"
	MsgInvalidDistance     = "Distance must be a non-negative number"
	MsgNoFieldsToUpdate    = "No valid fields to update"
	MsgNotCreator          = "Only the event creator can update this event"
	MsgDeleteNotFound      = "Event not found or you are not the creator"
	MsgUserNotFound        = "User not found"
	MsgPrivateEventsDenied = "Cannot access private events of other users"
)

// UserEvents list types.
const (
	UserEventsCreated = "created"
	UserEventsJoined  = "joined"
	UserEventsAll     = "all"
)

// isoLayouts are the ISO 8601 shapes accepted for event dates, most
// specific first. Layouts without an offset are read in the service's
// location.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// EventService runs event CRUD and the join/leave/waitlist workflow.
type EventService struct {
	events       repository.EventRepository
	participants repository.ParticipantRepository
	users        repository.UserRepository
	policy       *bluemonday.Policy
	loc          *time.Location
	logger       *slog.Logger
	now          clock
}

func NewEventService(
	events repository.EventRepository,
	participants repository.ParticipantRepository,
	users repository.UserRepository,
	loc *time.Location,
	logger *slog.Logger,
) *EventService {
	if loc == nil {
		loc = time.UTC
	}
	return &EventService{
		events:       events,
		participants: participants,
		users:        users,
		policy:       bluemonday.StrictPolicy(),
		loc:          loc,
		logger:       logger,
		now:          systemClock,
	}
}

// EventQuery is the raw query string of GET /api/events.
type EventQuery struct {
	Category   string
	Difficulty string
	DateFrom   string
	DateTo     string
	Location   string
}

// JoinResult is the outcome of a join: the new row and whether it landed
// on the list or the waitlist.
type JoinResult struct {
	Participation *model.EventParticipant
	Status        string
}

// ============================================================================
// Reads
// ============================================================================

// Get returns one active event with its details. viewerID may be empty.
func (s *EventService) Get(ctx context.Context, id, viewerID string) (*model.EventDetails, error) {
	event, err := s.getActive(ctx, id)
	if err != nil {
		return nil, err
	}
	details, err := s.details(ctx, []model.Event{*event}, viewerID)
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

// List returns active events matching q, soonest first.
func (s *EventService) List(ctx context.Context, q EventQuery, viewerID string) ([]model.EventDetails, error) {
	filters := model.EventFilters{
		Category:   strings.TrimSpace(q.Category),
		Difficulty: strings.TrimSpace(q.Difficulty),
		Location:   strings.TrimSpace(q.Location),
	}
	if q.DateFrom != "" {
		t, err := s.parseTime(q.DateFrom)
		if err != nil {
			return nil, apperror.ValidationFailed("dateFrom", MsgInvalidDate)
		}
		filters.DateFrom = &t
	}
	if q.DateTo != "" {
		t, err := s.parseTime(q.DateTo)
		if err != nil {
			return nil, apperror.ValidationFailed("dateTo", MsgInvalidDate)
		}
		filters.DateTo = &t
	}

	events, err := s.events.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("service/events: listing: %w", err)
	}
	return s.details(ctx, events, viewerID)
}

// UserEvents lists the events a rider created and joined. Totals are
// counted before limit is applied; with eventType "all" each list gets
// half the limit, rounded up.
func (s *EventService) UserEvents(ctx context.Context, krid, viewerID string, includePrivate bool, eventType string, limit int) (*model.UserEvents, error) {
	target, err := s.users.GetByKRID(ctx, krid)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.New(apperror.ErrNotFound, MsgUserNotFound)
		}
		return nil, fmt.Errorf("service/events: looking up %s: %w", krid, err)
	}
	if includePrivate && target.ID != viewerID {
		return nil, apperror.Forbidden(MsgPrivateEventsDenied)
	}

	if eventType == "" {
		eventType = UserEventsAll
	}
	switch eventType {
	case UserEventsCreated, UserEventsJoined, UserEventsAll:
	default:
		return nil, apperror.ValidationFailed("type", "Type must be one of: created, joined, all")
	}

	var created, joined []model.Event
	if eventType != UserEventsJoined {
		if created, err = s.events.ListByCreator(ctx, target.ID); err != nil {
			return nil, fmt.Errorf("service/events: listing created events: %w", err)
		}
	}
	if eventType != UserEventsCreated {
		if joined, err = s.events.ListJoined(ctx, target.ID); err != nil {
			return nil, fmt.Errorf("service/events: listing joined events: %w", err)
		}
	}

	out := &model.UserEvents{
		TotalCreated: len(created),
		TotalJoined:  len(joined),
	}
	out.TotalAll = out.TotalCreated + out.TotalJoined

	if limit > 0 {
		per := limit
		if eventType == UserEventsAll {
			per = (limit + 1) / 2
		}
		created = capEvents(created, per)
		joined = capEvents(joined, per)
	}

	if out.CreatedEvents, err = s.details(ctx, created, viewerID); err != nil {
		return nil, err
	}
	if out.JoinedEvents, err = s.details(ctx, joined, viewerID); err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================================
// Writes
// ============================================================================

// Create validates and stores a new event owned by creatorID.
func (s *EventService) Create(ctx context.Context, creatorID string, in model.CreateEventInput) (*model.EventDetails, error) {
	title := s.clean(in.Title)
	location := s.clean(in.Location)
	category := s.clean(in.Category)
	for _, f := range []struct{ name, value string }{
		{"title", title},
		{"date", strings.TrimSpace(in.Date)},
		{"location", location},
		{"category", category},
	} {
		if f.value == "" {
			return nil, apperror.ValidationFailed(f.name, "Missing required field: "+f.name)
		}
	}

	date, err := s.parseFutureDate(in.Date)
	if err != nil {
		return nil, err
	}

	event := &model.Event{
		Title:       title,
		Description: s.cleanOptional(in.Description),
		Date:        date,
		Location:    location,
		Category:    category,
		Difficulty:  s.cleanOptional(in.Difficulty),
		CreatedBy:   creatorID,
	}

	if in.RegistrationDeadline != nil && strings.TrimSpace(*in.RegistrationDeadline) != "" {
		deadline, err := s.parseDeadline(*in.RegistrationDeadline, date)
		if err != nil {
			return nil, err
		}
		event.RegistrationDeadline = &deadline
	}
	if err := validateCapacity(in.MaxParticipants); err != nil {
		return nil, err
	}
	event.MaxParticipants = in.MaxParticipants
	if err := validateDistance(in.Distance); err != nil {
		return nil, err
	}
	event.Distance = in.Distance

	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("service/events: creating event: %w", err)
	}
	s.logger.Info("event created", slog.String("event_id", event.ID), slog.String("creator", creatorID))

	details, err := s.details(ctx, []model.Event{*event}, creatorID)
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

// Update applies a partial edit by the event's creator. A field that is
// present and null clears it.
func (s *EventService) Update(ctx context.Context, id, callerID string, p model.EventPatch) (*model.EventDetails, error) {
	if !patchHasFields(p) {
		return nil, apperror.ValidationFailed("", MsgNoFieldsToUpdate)
	}

	event, err := s.getActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.CreatedBy != callerID {
		return nil, apperror.Forbidden(MsgNotCreator)
	}

	if p.Title.Set {
		v := s.cleanValue(p.Title.Value)
		if v == "" {
			return nil, apperror.ValidationFailed("title", "Title must be a non-empty string")
		}
		event.Title = v
	}
	if p.Description.Set {
		event.Description = s.cleanOptional(p.Description.Value)
	}
	if p.Date.Set {
		if p.Date.Value == nil {
			return nil, apperror.ValidationFailed("date", MsgInvalidDate)
		}
		date, err := s.parseFutureDate(*p.Date.Value)
		if err != nil {
			return nil, err
		}
		event.Date = date
	}
	if p.Location.Set {
		v := s.cleanValue(p.Location.Value)
		if v == "" {
			return nil, apperror.ValidationFailed("location", "Location must be a non-empty string")
		}
		event.Location = v
	}
	if p.Category.Set {
		v := s.cleanValue(p.Category.Value)
		if v == "" {
			return nil, apperror.ValidationFailed("category", "Category must be a non-empty string")
		}
		event.Category = v
	}
	if p.Difficulty.Set {
		event.Difficulty = s.cleanOptional(p.Difficulty.Value)
	}
	if p.MaxParticipants.Set {
		if err := validateCapacity(p.MaxParticipants.Value); err != nil {
			return nil, err
		}
		event.MaxParticipants = p.MaxParticipants.Value
	}
	if p.Distance.Set {
		if err := validateDistance(p.Distance.Value); err != nil {
			return nil, err
		}
		event.Distance = p.Distance.Value
	}
	if p.RegistrationDeadline.Set {
		if p.RegistrationDeadline.Value == nil || strings.TrimSpace(*p.RegistrationDeadline.Value) == "" {
			event.RegistrationDeadline = nil
		} else {
			deadline, err := s.parseDeadline(*p.RegistrationDeadline.Value, event.Date)
			if err != nil {
				return nil, err
			}
			event.RegistrationDeadline = &deadline
		}
	}

	if err := s.events.Update(ctx, event); err != nil {
		return nil, fmt.Errorf("service/events: updating %s: %w", id, err)
	}
	s.logger.Info("event updated", slog.String("event_id", id))

	details, err := s.details(ctx, []model.Event{*event}, callerID)
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

// Delete soft-deletes an event owned by callerID.
func (s *EventService) Delete(ctx context.Context, id, callerID string) error {
	ok, err := s.events.SoftDelete(ctx, id, callerID)
	if err != nil {
		return fmt.Errorf("service/events: deleting %s: %w", id, err)
	}
	if !ok {
		return apperror.New(apperror.ErrNotFound, MsgDeleteNotFound)
	}
	s.logger.Info("event deleted", slog.String("event_id", id))
	return nil
}

// ============================================================================
// Participation
// ============================================================================

// Join adds userID to the event: registered while capacity remains,
// waitlisted after. The capacity check is a plain read followed by a
// write, so two simultaneous joins can both see the last free slot.
func (s *EventService) Join(ctx context.Context, eventID, userID string) (*JoinResult, error) {
	_, err := s.participants.Get(ctx, eventID, userID)
	switch {
	case err == nil:
		return nil, apperror.New(apperror.ErrConflict, MsgAlreadyParticipant)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/events: checking participation: %w", err)
	}

	event, err := s.getActive(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.RegistrationDeadline != nil && s.now().After(*event.RegistrationDeadline) {
		return nil, apperror.ValidationFailed("registrationDeadline", MsgDeadlinePassed)
	}

	status := model.StatusRegistered
	if event.MaxParticipants != nil {
		count, err := s.participants.CountRegistered(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("service/events: counting participants: %w", err)
		}
		if count >= *event.MaxParticipants {
			status = model.StatusWaitlist
		}
	}

	p := &model.EventParticipant{EventID: eventID, UserID: userID, Status: status}
	if err := s.participants.Add(ctx, p); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.New(apperror.ErrConflict, MsgAlreadyParticipant)
		}
		return nil, fmt.Errorf("service/events: adding participant: %w", err)
	}

	s.logger.Info("user joined event",
		slog.String("event_id", eventID), slog.String("user_id", userID), slog.String("status", status))
	return &JoinResult{Participation: p, Status: status}, nil
}

// Leave removes userID from the event and, if that frees a slot, promotes
// the longest-waiting waitlisted participant. It returns the promoted row,
// or nil when nobody moved up.
func (s *EventService) Leave(ctx context.Context, eventID, userID string) (*model.EventParticipant, error) {
	removed, err := s.participants.Remove(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("service/events: removing participant: %w", err)
	}
	if !removed {
		return nil, apperror.ValidationFailed("", MsgNotParticipant)
	}
	s.logger.Info("user left event", slog.String("event_id", eventID), slog.String("user_id", userID))

	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("service/events: loading event: %w", err)
	}
	if event.MaxParticipants == nil {
		return nil, nil
	}

	count, err := s.participants.CountRegistered(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("service/events: counting participants: %w", err)
	}
	if count >= *event.MaxParticipants {
		return nil, nil
	}

	next, err := s.participants.FirstWaitlisted(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("service/events: loading waitlist: %w", err)
	}
	if next == nil {
		return nil, nil
	}
	if err := s.participants.UpdateStatus(ctx, next.ID, model.StatusRegistered); err != nil {
		return nil, fmt.Errorf("service/events: promoting %s: %w", next.UserID, err)
	}
	next.Status = model.StatusRegistered

	s.logger.Info("promoted from waitlist",
		slog.String("event_id", eventID), slog.String("user_id", next.UserID))
	return next, nil
}

// ============================================================================
// Helpers
// ============================================================================

func (s *EventService) getActive(ctx context.Context, id string) (*model.Event, error) {
	event, err := s.events.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.New(apperror.ErrNotFound, MsgEventNotFound)
		}
		return nil, fmt.Errorf("service/events: loading %s: %w", id, err)
	}
	return event, nil
}

// details attaches creator, participants, the registered count and the
// viewer's own participation to each event.
func (s *EventService) details(ctx context.Context, events []model.Event, viewerID string) ([]model.EventDetails, error) {
	out := make([]model.EventDetails, 0, len(events))
	if len(events) == 0 {
		return out, nil
	}

	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	parts, err := s.participants.ListForEvents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service/events: loading participants: %w", err)
	}

	creators := make(map[string]model.UserSummary)
	for _, e := range events {
		if _, ok := creators[e.CreatedBy]; ok {
			continue
		}
		u, err := s.users.GetByID(ctx, e.CreatedBy)
		switch {
		case err == nil:
			creators[e.CreatedBy] = u.Summary()
		case errors.Is(err, apperror.ErrNotFound):
			creators[e.CreatedBy] = model.UserSummary{}
		default:
			return nil, fmt.Errorf("service/events: loading creator %s: %w", e.CreatedBy, err)
		}
	}

	for _, e := range events {
		d := model.EventDetails{
			Event:        e,
			Creator:      creators[e.CreatedBy],
			Participants: parts[e.ID],
		}
		if d.Participants == nil {
			d.Participants = []model.ParticipantDetails{}
		}
		for i := range d.Participants {
			p := d.Participants[i].EventParticipant
			if p.Status == model.StatusRegistered {
				d.ParticipantCount++
			}
			if viewerID != "" && p.UserID == viewerID {
				d.UserParticipation = &p
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// clean strips all HTML and surrounding whitespace. Entities bluemonday
// escapes are decoded again so "Rock & Roll" stays as typed.
func (s *EventService) clean(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

func (s *EventService) cleanValue(v *string) string {
	if v == nil {
		return ""
	}
	return s.clean(*v)
}

// cleanOptional returns nil for nil or blank input.
func (s *EventService) cleanOptional(v *string) *string {
	c := s.cleanValue(v)
	if c == "" {
		return nil
	}
	return &c
}

func (s *EventService) parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, v, s.loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", v)
}

func (s *EventService) parseFutureDate(v string) (time.Time, error) {
	date, err := s.parseTime(v)
	if err != nil {
		return time.Time{}, apperror.ValidationFailed("date", MsgInvalidDate)
	}
	if !date.After(s.now()) {
		return time.Time{}, apperror.ValidationFailed("date", MsgDateInPast)
	}
	return date, nil
}

func (s *EventService) parseDeadline(v string, date time.Time) (time.Time, error) {
	deadline, err := s.parseTime(v)
	if err != nil {
		return time.Time{}, apperror.ValidationFailed("registrationDeadline", MsgInvalidDeadline)
	}
	if !deadline.Before(date) {
		return time.Time{}, apperror.ValidationFailed("registrationDeadline", MsgDeadlineAfterDate)
	}
	return deadline, nil
}

func validateCapacity(v *int) error {
	if v != nil && *v <= 0 {
		return apperror.ValidationFailed("maxParticipants", MsgInvalidCapacity)
	}
	return nil
}

func validateDistance(v *float64) error {
	if v != nil && *v < 0 {
		return apperror.ValidationFailed("distance", MsgInvalidDistance)
	}
	return nil
}

func patchHasFields(p model.EventPatch) bool {
	return p.Title.Set || p.Description.Set || p.Date.Set || p.Location.Set ||
		p.MaxParticipants.Set || p.Category.Set || p.Difficulty.Set || p.Distance.Set ||
		p.RegistrationDeadline.Set
}

func capEvents(events []model.Event, n int) []model.Event {
	if len(events) > n {
		return events[:n]
	}
	return events
}
