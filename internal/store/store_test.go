package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// ref is a Wednesday.
var ref = time.Date(2025, 6, 18, 15, 0, 0, 0, time.Local)

func TestAppendAndSumUsage(t *testing.T) {
	s := newTestStore(t)
	key := DateKey(ref)

	require.NoError(t, s.AppendUsage("example.com", 120, key))
	require.NoError(t, s.AppendUsage("example.com", 30, key))
	require.NoError(t, s.AppendUsage("other.net", 10, key))

	total, err := s.UsageSecondsForTarget(TargetSite, "example.com", Daily, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(150), total)
}

// Writers and readers race against the single in-memory database the way
// the commit goroutine and a polling caller do. Every access must land on
// the same connection; a second pool connection would see no schema at all.
func TestConcurrentAccessSharesOneDatabase(t *testing.T) {
	s := newTestStore(t)
	key := DateKey(ref)

	const workers = 16
	const rounds = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds*2)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				if err := s.AppendUsage("example.com", 1, key); err != nil {
					errs <- err
				}
				if _, err := s.UsageSecondsForTarget(TargetSite, "example.com", Daily, ref); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	total, err := s.UsageSecondsForTarget(TargetSite, "example.com", Daily, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*rounds), total)
}

func TestAppendUsageRejectsNonPositive(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.AppendUsage("example.com", 0, DateKey(ref)))
	assert.Error(t, s.AppendUsage("example.com", -5, DateKey(ref)))
}

func TestSiteUsageIncludesSubdomains(t *testing.T) {
	s := newTestStore(t)
	key := DateKey(ref)

	require.NoError(t, s.AppendUsage("example.com", 60, key))
	require.NoError(t, s.AppendUsage("mail.example.com", 40, key))
	require.NoError(t, s.AppendUsage("notexample.com", 500, key))

	total, err := s.UsageSecondsForTarget(TargetSite, "example.com", Daily, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
}

func TestCategoryUsageDefaultsToOther(t *testing.T) {
	s := newTestStore(t)
	key := DateKey(ref)

	require.NoError(t, s.SetCategory("social.example", "Social"))
	require.NoError(t, s.AppendUsage("social.example", 100, key))
	require.NoError(t, s.AppendUsage("unclassified.example", 70, key))

	social, err := s.UsageSecondsForTarget(TargetCategory, "Social", Daily, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(100), social)

	other, err := s.UsageSecondsForTarget(TargetCategory, DefaultCategory, Daily, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(70), other)
}

func TestTimeframeWindows(t *testing.T) {
	s := newTestStore(t)

	// Monday of ref's week is June 16; June 1 is in range monthly only.
	require.NoError(t, s.AppendUsage("example.com", 10, "2025-06-18")) // today
	require.NoError(t, s.AppendUsage("example.com", 20, "2025-06-16")) // this week
	require.NoError(t, s.AppendUsage("example.com", 40, "2025-06-02")) // this month
	require.NoError(t, s.AppendUsage("example.com", 80, "2025-05-30")) // last month

	daily, err := s.UsageSecondsForTarget(TargetSite, "example.com", Daily, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(10), daily)

	weekly, err := s.UsageSecondsForTarget(TargetSite, "example.com", Weekly, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(30), weekly)

	monthly, err := s.UsageSecondsForTarget(TargetSite, "example.com", Monthly, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(70), monthly)
}

func TestLimitsCRUD(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddLimit(Limit{
		TargetType:   TargetSite,
		TargetID:     "WWW.Example.COM",
		Timeframe:    Daily,
		LimitMinutes: 10,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	limits, err := s.AllLimits()
	require.NoError(t, err)
	require.Len(t, limits, 1)
	assert.Equal(t, "example.com", limits[0].TargetID, "site targets are normalized on insert")
	assert.Equal(t, 10, limits[0].LimitMinutes)

	require.NoError(t, s.DeleteLimit(id))
	assert.Error(t, s.DeleteLimit(id))

	limits, err = s.AllLimits()
	require.NoError(t, err)
	assert.Empty(t, limits)
}

func TestAddLimitValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddLimit(Limit{TargetType: TargetSite, TargetID: "x.com", Timeframe: "hourly", LimitMinutes: 5})
	assert.Error(t, err)

	_, err = s.AddLimit(Limit{TargetType: "group", TargetID: "x.com", Timeframe: Daily, LimitMinutes: 5})
	assert.Error(t, err)

	_, err = s.AddLimit(Limit{TargetType: TargetSite, TargetID: "x.com", Timeframe: Daily, LimitMinutes: 0})
	assert.Error(t, err)
}

func TestLimitsForDomain(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddLimit(Limit{TargetType: TargetSite, TargetID: "example.com", Timeframe: Daily, LimitMinutes: 10})
	require.NoError(t, err)
	_, err = s.AddLimit(Limit{TargetType: TargetCategory, TargetID: "Social", Timeframe: Weekly, LimitMinutes: 300})
	require.NoError(t, err)
	_, err = s.AddLimit(Limit{TargetType: TargetSite, TargetID: "unrelated.org", Timeframe: Daily, LimitMinutes: 10})
	require.NoError(t, err)

	require.NoError(t, s.SetCategory("mail.example.com", "Social"))

	// Subdomain matches the parent site limit and its own category limit.
	applicable, err := s.LimitsForDomain("mail.example.com")
	require.NoError(t, err)
	require.Len(t, applicable, 2)

	// Unclassified domain with no site limit matches nothing.
	applicable, err = s.LimitsForDomain("elsewhere.net")
	require.NoError(t, err)
	assert.Empty(t, applicable)
}

func TestBlockedBy(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddLimit(Limit{TargetType: TargetSite, TargetID: "example.com", Timeframe: Daily, LimitMinutes: 10})
	require.NoError(t, err)

	// Under the cap.
	require.NoError(t, s.AppendUsage("example.com", 599, DateKey(ref)))
	_, blocked, err := s.BlockedBy("example.com", ref)
	require.NoError(t, err)
	assert.False(t, blocked)

	// Meeting the cap blocks.
	require.NoError(t, s.AppendUsage("example.com", 1, DateKey(ref)))
	l, blocked, err := s.BlockedBy("example.com", ref)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, id, l.ID)

	// A different domain is unaffected.
	blocked, err = s.IsDomainBlocked("other.net", ref)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestPreferences(t *testing.T) {
	s := newTestStore(t)

	// Defaults.
	ib, err := s.ImmediateBlocking()
	require.NoError(t, err)
	assert.True(t, ib)

	until, err := s.SnoozeUntil()
	require.NoError(t, err)
	assert.True(t, until.IsZero())

	// Round trip.
	require.NoError(t, s.SetPreference(PrefImmediateBlocking, "false"))
	ib, err = s.ImmediateBlocking()
	require.NoError(t, err)
	assert.False(t, ib)

	deadline := ref.Add(5 * time.Minute)
	require.NoError(t, s.SetSnoozeUntil(deadline))
	until, err = s.SnoozeUntil()
	require.NoError(t, err)
	assert.Equal(t, deadline.UnixMilli(), until.UnixMilli())
}

func TestBlockEvents(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordBlockEvent("example.com", 1, ref))
	require.NoError(t, s.RecordBlockEvent("other.net", 2, ref.Add(time.Minute)))

	events, err := s.BlockEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "other.net", events[0].Domain, "newest first")
}

func TestUsageSummary(t *testing.T) {
	s := newTestStore(t)
	key := DateKey(ref)

	require.NoError(t, s.AppendUsage("big.example", 300, key))
	require.NoError(t, s.AppendUsage("small.example", 50, key))
	require.NoError(t, s.AppendUsage("big.example", 100, key))

	summary, err := s.UsageSummary(Daily, ref)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, DomainUsage{Domain: "big.example", Seconds: 400}, summary[0])
	assert.Equal(t, DomainUsage{Domain: "small.example", Seconds: 50}, summary[1])
}
