package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Activity is one Strava activity stored for a rider.
//
// ID is Strava's own activity id. It is a 64-bit integer in storage but is
// always serialized as a string so JavaScript clients don't lose precision.
type Activity struct {
	ID             int64     `json:"id,string"`
	UserID         string    `json:"userId"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	SportType      string    `json:"sportType"`
	Distance       float64   `json:"distance"`
	MovingTime     int       `json:"movingTime"`
	ElapsedTime    int       `json:"elapsedTime"`
	TotalElevation float64   `json:"totalElevation"`
	StartDate      time.Time `json:"startDate"`
	StartDateLocal time.Time `json:"startDateLocal"`
	Timezone       *string   `json:"timezone"`
	AverageSpeed   *float64  `json:"averageSpeed"`
	MaxSpeed       *float64  `json:"maxSpeed"`
	WorkoutType    *int      `json:"workoutType"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ActivityInput is the "activity" object of POST /api/user/activity/add.
type ActivityInput struct {
	ID             FlexString `json:"id"`
	Name           string     `json:"name"`
	Type           string     `json:"type"`
	SportType      string     `json:"sportType"`
	Distance       *float64   `json:"distance"`
	MovingTime     *int       `json:"movingTime"`
	ElapsedTime    *int       `json:"elapsedTime"`
	TotalElevation *float64   `json:"totalElevation"`
	StartDate      string     `json:"startDate"`
	StartDateLocal string     `json:"startDateLocal"`
	Timezone       string     `json:"timezone"`
	AverageSpeed   *float64   `json:"averageSpeed"`
	MaxSpeed       *float64   `json:"maxSpeed"`
	WorkoutType    *int       `json:"workoutType"`
}

// ActivityQuery selects a page of a rider's activities.
type ActivityQuery struct {
	Email     string
	KRID      string
	SportType string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// ActivityFilter is what the repository needs once the owner is resolved.
type ActivityFilter struct {
	UserID    string
	SportType string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// Pagination describes where a page sits in the full result set.
type Pagination struct {
	Total       int  `json:"total"`
	Limit       int  `json:"limit"`
	Offset      int  `json:"offset"`
	HasMore     bool `json:"hasMore"`
	TotalPages  int  `json:"totalPages"`
	CurrentPage int  `json:"currentPage"`
}

// ActivityFiltersEcho repeats the effective filters back to the client.
type ActivityFiltersEcho struct {
	Email     *string `json:"email"`
	KRID      *string `json:"krid"`
	SportType *string `json:"sportType"`
	StartDate *string `json:"startDate"`
	EndDate   *string `json:"endDate"`
}

// ActivityPage is the response of GET /api/user/activity/get-all.
type ActivityPage struct {
	Activities []Activity          `json:"activities"`
	Pagination Pagination          `json:"pagination"`
	Filters    ActivityFiltersEcho `json:"filters"`
}

// FlexString accepts either a JSON string or a bare JSON number.
// Strava ids arrive both ways depending on the client.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}
