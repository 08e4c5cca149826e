package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// TestRotationDue covers both budget axes.
func TestRotationDue(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		records int
		budget  int
		age     time.Duration
		maxAge  time.Duration
		want    bool
	}{
		{"fresh", 0, 400, time.Minute, 45 * time.Minute, false},
		{"record budget hit", 400, 400, time.Minute, 45 * time.Minute, true},
		{"record budget exceeded", 401, 400, time.Minute, 45 * time.Minute, true},
		{"age budget hit", 10, 400, 45 * time.Minute, 45 * time.Minute, true},
		{"budgets disabled", 10000, 0, 100 * time.Hour, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, rotationDue(tc.records, tc.budget, tc.age, tc.maxAge))
		})
	}
}

// TestPlausibleViewport keeps geometry inside desktop bounds.
func TestPlausibleViewport(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		w, h := plausibleViewport()
		require.GreaterOrEqual(t, w, int64(1280))
		require.LessOrEqual(t, w, int64(1920+15))
		require.GreaterOrEqual(t, h, int64(768))
		require.LessOrEqual(t, h, int64(1080+15))
	}
}

// TestNavigateBeforeInitialize fails cleanly without a live browser.
func TestNavigateBeforeInitialize(t *testing.T) {
	t.Parallel()

	m := New(Config{}, nil)
	_, err := m.Navigate(t.Context(), "https://example.com", scraper.NavOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

// TestCloseIdempotent allows repeated Close calls before Initialize.
func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	m := New(Config{}, nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

// TestConfigDefaults applies budget defaults on zero values.
func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	m := New(Config{}, nil)
	require.Equal(t, defaultNavigationTimeout, m.cfg.NavigationTimeout)
	require.Equal(t, defaultRecordBudget, m.cfg.RecordBudget)
	require.Equal(t, defaultMaxAge, m.cfg.MaxAge)
}
