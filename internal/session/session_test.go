package session

import (
	"testing"
	"time"
)

func TestNextFunding(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{
			name: "mid-morning rolls to 16:00",
			at:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			want: time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly on anchor rolls forward",
			at:   time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
			want: time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC),
		},
		{
			name: "late evening crosses midnight",
			at:   time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC),
			want: time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "non-UTC input converts",
			at:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.FixedZone("IST", 5*3600+30*60)), // 05:00 UTC
			want: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextFunding(tc.at); !got.Equal(tc.want) {
				t.Errorf("NextFunding(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestPrevFunding(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	want := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	if got := PrevFunding(at); !got.Equal(want) {
		t.Errorf("PrevFunding = %v, want %v", got, want)
	}
}

func TestNextDailyReset(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	want := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	if got := NextDailyReset(at); !got.Equal(want) {
		t.Errorf("NextDailyReset = %v, want %v", got, want)
	}

	// Exactly at midnight: next reset is tomorrow, not now.
	midnight := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if got := NextDailyReset(midnight); !got.Equal(midnight.AddDate(0, 0, 1)) {
		t.Errorf("NextDailyReset at boundary = %v", got)
	}
}

func TestTimeUntilFunding(t *testing.T) {
	at := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)
	if got := TimeUntilFunding(at); got != time.Hour {
		t.Errorf("TimeUntilFunding = %v, want 1h", got)
	}
}

func TestStatusString(t *testing.T) {
	at := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	got := StatusString(at)
	want := "Market 24/7 — funding in 1h30m, daily reset in 9h30m"
	if got != want {
		t.Errorf("StatusString = %q, want %q", got, want)
	}
}
