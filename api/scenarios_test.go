package api

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadScenario(t *testing.T, s *testServer, id string) {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func getEpisode(t *testing.T, s *testServer, id string) EpisodeDTO {
	t.Helper()
	rec := s.do(http.MethodGet, "/api/episodes/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[EpisodeDTO](t, rec)
}

func TestListScenarios(t *testing.T) {
	s := newTestServer(t)

	list := decode[[]ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios", nil))

	assert.Len(t, list, len(scenarios))
}

func TestLoadScenario_Unknown(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "does-not-exist"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_FonasaOutlier(t *testing.T) {
	s := newTestServer(t)
	loadScenario(t, s, "fonasa-outlier")

	outlier := getEpisode(t, s, "ep-outlier")
	assert.Equal(t, 20, outlier.Calculated.LengthOfStay)
	assert.Equal(t, "outlier_superior", outlier.Calculated.Classification)
	assert.Equal(t, 200000.0, outlier.Calculated.GroupValue)
	assert.Equal(t, 125000.0, outlier.Calculated.OutlierPayment)
	assert.Equal(t, 325000.0, outlier.Calculated.FinalAmount)

	inlier := getEpisode(t, s, "ep-inlier")
	assert.Equal(t, "inlier", inlier.Calculated.Classification)
	assert.Equal(t, "T1", inlier.Breakdown.Tier)
	assert.Equal(t, 72000.0, inlier.Calculated.GroupValue)
	assert.Equal(t, 0.0, inlier.Calculated.OutlierPayment)
	assert.Equal(t, 72000.0+35000.0, inlier.Calculated.FinalAmount)

	current := decode[ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "fonasa-outlier", current.ID)
}

func TestScenario_CH0041Delay(t *testing.T) {
	s := newTestServer(t)
	loadScenario(t, s, "ch0041-delay")

	ep2024 := getEpisode(t, s, "ep-delay-2024")
	require.NotNil(t, ep2024.Calculated.BasePrice)
	assert.Equal(t, 1500000.0, *ep2024.Calculated.BasePrice)
	assert.Equal(t, 150000.0, ep2024.Calculated.DelayPayment)
	require.NotNil(t, ep2024.Breakdown.DelayRate)
	assert.Equal(t, 50000.0, *ep2024.Breakdown.DelayRate)
	assert.Equal(t, 0.0, ep2024.Calculated.OutlierPayment, "outlier is FNS012 only")

	ep2025 := getEpisode(t, s, "ep-delay-2025")
	assert.Equal(t, 110000.0, ep2025.Calculated.DelayPayment)
	require.NotNil(t, ep2025.Calculated.BasePrice)
	assert.Equal(t, 1500000.0, *ep2025.Calculated.BasePrice, "later-quoted rate is not a base price")
}

func TestScenario_FonasaDelay(t *testing.T) {
	s := newTestServer(t)
	loadScenario(t, s, "fonasa-delay")

	ep := getEpisode(t, s, "ep-fonasa-delay")
	assert.Equal(t, "weight_formula", ep.Breakdown.DelayMethod)
	assert.Equal(t, 108000.0, ep.Calculated.GroupValue)
	assert.Equal(t, 27000.0, ep.Calculated.DelayPayment)
	assert.Equal(t, 135000.0, ep.Calculated.FinalAmount)
}

func TestScenario_OverrideReview(t *testing.T) {
	s := newTestServer(t)
	loadScenario(t, s, "override-review")

	final := getEpisode(t, s, "ep-override-final")
	assert.Equal(t, 620000.0, final.Calculated.FinalAmount)
	assert.True(t, final.Breakdown.FinalAmountOverridden)

	group := getEpisode(t, s, "ep-override-group")
	assert.Equal(t, 500000.0, group.Calculated.GroupValue)
	assert.Equal(t, 500000.0, group.Calculated.FinalAmount)
	assert.Equal(t, "approved", group.Validation)
}

func TestLoadScenario_ResetsPreviousData(t *testing.T) {
	s := newTestServer(t)
	loadScenario(t, s, "fonasa-outlier")
	loadScenario(t, s, "fonasa-delay")

	list := decode[[]EpisodeDTO](t, s.do(http.MethodGet, "/api/episodes", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "ep-fonasa-delay", list[0].ID)
}

func TestRecalculationScheduler(t *testing.T) {
	// GIVEN: A loaded scenario and a new T2 quotation
	s := newTestServer(t)
	loadScenario(t, s, "fonasa-outlier")
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/prices", map[string]any{
		"agreement": "FNS012", "tier": "T2", "price": 120000,
	}).Code)

	sched := NewRecalculationScheduler(s.handler.Service, s.handler.Log)
	sched.Workers = 2

	// WHEN: A run is triggered
	summary, err := sched.RunNow(context.Background())
	require.NoError(t, err)

	// THEN: Only the T2 episode moved
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Unchanged)

	last, at := sched.LastRun()
	assert.Equal(t, summary, last)
	assert.False(t, at.IsZero())
	assert.True(t, sched.GetNextRunTime().After(at))
}

func TestRecalculationScheduler_StartStop(t *testing.T) {
	s := newTestServer(t)
	sched := NewRecalculationScheduler(s.handler.Service, s.handler.Log)
	sched.Interval = time.Hour

	sched.Start()
	require.Eventually(t, func() bool {
		_, at := sched.LastRun()
		return !at.IsZero()
	}, time.Second, 10*time.Millisecond, "first run happens on start")
	sched.Stop()
	sched.Stop()
}

func TestRecalculationScheduler_Disabled(t *testing.T) {
	s := newTestServer(t)
	sched := NewRecalculationScheduler(s.handler.Service, s.handler.Log)
	sched.Enabled = false

	sched.Start()
	sched.Stop()

	_, at := sched.LastRun()
	assert.True(t, at.IsZero())
}

func TestRecalculationStatus_WithoutScheduler(t *testing.T) {
	s := newTestServer(t)

	status := decode[RecalcStatusDTO](t, s.do(http.MethodGet, "/api/admin/recalculate/status", nil))

	assert.False(t, status.Enabled)
	assert.Empty(t, status.LastRun)
	assert.Nil(t, status.LastSummary)
}

func TestRecalculationStatus_ManualRunIsRecorded(t *testing.T) {
	// GIVEN: A handler wired to an idle scheduler
	s := newTestServer(t)
	loadScenario(t, s, "fonasa-outlier")
	sched := NewRecalculationScheduler(s.handler.Service, s.handler.Log)
	sched.Interval = 30 * time.Minute
	sched.Workers = 3
	s.handler.Scheduler = sched

	before := decode[RecalcStatusDTO](t, s.do(http.MethodGet, "/api/admin/recalculate/status", nil))
	assert.True(t, before.Enabled)
	assert.Equal(t, "30m0s", before.Interval)
	assert.Equal(t, 3, before.Workers)
	assert.Empty(t, before.LastRun, "no run yet")
	assert.Nil(t, before.LastSummary)

	// WHEN: A manual recalculation is posted
	rec := s.do(http.MethodPost, "/api/admin/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	manual := decode[RecalcSummaryDTO](t, rec)

	// THEN: The status reports that run and schedules the next one after it
	after := decode[RecalcStatusDTO](t, s.do(http.MethodGet, "/api/admin/recalculate/status", nil))
	require.NotEmpty(t, after.LastRun)
	require.NotNil(t, after.LastSummary)
	assert.Equal(t, manual, *after.LastSummary)
	assert.Equal(t, 2, after.LastSummary.Total)

	lastRun, err := time.Parse(time.RFC3339, after.LastRun)
	require.NoError(t, err)
	nextRun, err := time.Parse(time.RFC3339, after.NextRun)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, nextRun.Sub(lastRun))
}

func TestCurrentScenario_ConcurrentLoadAndRead(t *testing.T) {
	// GIVEN: A loader switching scenarios while clients poll the current one
	s := newTestServer(t)
	ids := []string{"fonasa-outlier", "fonasa-delay", "ch0041-delay"}
	known := map[string]bool{"": true}
	for _, id := range ids {
		known[id] = true
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	seen := make(chan string, 256)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				select {
				case seen <- s.handler.CurrentScenario():
				default:
				}
			}
		}()
	}

	// WHEN: Scenarios are loaded one after another
	for _, id := range ids {
		require.NoError(t, s.handler.LoadScenarioByID(context.Background(), id))
	}
	close(done)
	wg.Wait()
	close(seen)

	// THEN: Readers only ever observed whole scenario ids, and the last load wins
	for id := range seen {
		assert.True(t, known[id], "unexpected scenario id %q", id)
	}
	current := decode[ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "ch0041-delay", current.ID)
}
