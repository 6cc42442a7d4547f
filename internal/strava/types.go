package strava

import (
	"fmt"
	"time"
)

// Athlete is the summary athlete Strava embeds in token responses.
type Athlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// Token is a Strava token pair. Athlete is only present on the initial
// code exchange, not on refreshes.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Athlete      *Athlete
}

// Activity is a SummaryActivity from GET /athlete/activities.
type Activity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     time.Time `json:"start_date_local"`
	Timezone           string    `json:"timezone"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	WorkoutType        *int      `json:"workout_type"`
}

// ActivityTotal is one bucket (recent, year-to-date, all-time) of
// athlete stats.
type ActivityTotal struct {
	Count         int     `json:"count"`
	Distance      float64 `json:"distance"`
	MovingTime    int     `json:"moving_time"`
	ElapsedTime   int     `json:"elapsed_time"`
	ElevationGain float64 `json:"elevation_gain"`
}

// AthleteStats is the response of GET /athletes/{id}/stats.
type AthleteStats struct {
	BiggestRideDistance       float64       `json:"biggest_ride_distance"`
	BiggestClimbElevationGain float64       `json:"biggest_climb_elevation_gain"`
	RecentRideTotals          ActivityTotal `json:"recent_ride_totals"`
	RecentRunTotals           ActivityTotal `json:"recent_run_totals"`
	YTDRideTotals             ActivityTotal `json:"ytd_ride_totals"`
	YTDRunTotals              ActivityTotal `json:"ytd_run_totals"`
	AllRideTotals             ActivityTotal `json:"all_ride_totals"`
	AllRunTotals              ActivityTotal `json:"all_run_totals"`
}

// APIError is a non-2xx response from the Strava REST API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava: API returned status %d: %s", e.StatusCode, e.Body)
}
